// Package webhook is the sole network-facing ingestion point for provider
// deliveries. Per request: persist the audit record first, verify, drive
// the reconciliation engine, shape the acknowledgment that controls
// provider retry behavior.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hogarperu/rentals/internal/idgen"
	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/logging"
	"github.com/hogarperu/rentals/internal/metrics"
	"github.com/hogarperu/rentals/internal/provider"
	"github.com/hogarperu/rentals/internal/reconcile"
)

// maxPayloadBytes caps a webhook body. Providers send kilobytes.
const maxPayloadBytes = 1 << 20

// Handler ingests provider webhooks.
type Handler struct {
	store    ledger.Store
	registry *provider.Registry
	engine   *reconcile.Engine
}

// NewHandler creates a webhook handler.
func NewHandler(store ledger.Store, registry *provider.Registry, engine *reconcile.Engine) *Handler {
	return &Handler{store: store, registry: registry, engine: engine}
}

// signatureHeaders maps each provider to the header carrying its
// signature material.
var signatureHeaders = map[string]string{
	provider.CodeMercadoPago: "X-Signature",
	provider.CodeIzipay:      "X-Signature",
	provider.CodeNowPayments: "X-Nowpayments-Sig",
}

// RegisterRoutes sets up one POST route per provider.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	for _, code := range []string{provider.CodeMercadoPago, provider.CodeIzipay, provider.CodeNowPayments} {
		r.POST("/webhooks/"+code, metrics.WebhookMiddleware(code), h.handle(code))
	}
}

func (h *Handler) handle(providerCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logging.L(ctx).With("provider", providerCode)

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
			return
		}

		// Audit evidence lands before any business logic. If this write
		// fails the provider must retry; nothing may be processed
		// without a trace.
		rec := &ledger.WebhookAuditRecord{
			PublicID:   idgen.New(idgen.PrefixWebhook),
			Provider:   providerCode,
			Payload:    raw,
			ReceivedAt: time.Now(),
		}
		if err := h.store.CreateAuditRecord(ctx, rec); err != nil {
			log.Error("audit record write failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "audit persistence failed"})
			return
		}

		adapter, err := h.registry.Get(providerCode)
		if err != nil {
			h.finishAudit(ctx, rec, false, ledger.AuditOutcomeRejected, err.Error())
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "unknown provider"})
			return
		}

		cfg, toleranceBps := h.methodConfig(c, providerCode)
		if cfg.WebhookSecret == "" {
			// Deliveries are accepted unverified until operations sets a
			// webhook_secret on the method. Loud on purpose.
			log.Warn("webhook signature verification skipped",
				"reason", "no webhook_secret configured for provider")
		}
		signature := c.GetHeader(signatureHeaders[providerCode])

		ev, err := adapter.ParseWebhook(raw, signature, cfg)
		switch {
		case err == nil:
			// fallthrough to reconciliation
		case errors.Is(err, provider.ErrEventIgnored):
			h.finishAudit(ctx, rec, true, ledger.AuditOutcomeIgnored, "")
			c.JSON(http.StatusOK, gin.H{"status": "success", "message": "event ignored"})
			return
		default:
			var verr *provider.VerificationError
			if errors.As(err, &verr) {
				log.Warn("webhook verification failed", "reason", verr.Reason)
				h.finishAudit(ctx, rec, false, ledger.AuditOutcomeRejected, verr.Error())
				c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "verification failed"})
				return
			}
			h.finishAudit(ctx, rec, false, ledger.AuditOutcomeError, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed payload"})
			return
		}

		rec.EventType = ev.EventType

		res, err := h.engine.Apply(ctx, ev, toleranceBps)
		if err != nil {
			var terr *ledger.TransitionError
			if errors.As(err, &terr) {
				// Settled state disagrees with the event. Retrying the
				// same delivery cannot succeed, so answer non-retryable.
				h.finishAudit(ctx, rec, true, ledger.AuditOutcomeError, terr.Error())
				c.JSON(http.StatusConflict, gin.H{"status": "error", "message": terr.Error()})
				return
			}
			// Persistence failure: nothing was applied; the provider
			// should redeliver.
			log.Error("reconciliation failed", "order_ref", ev.OrderRef, "error", err)
			h.finishAudit(ctx, rec, false, ledger.AuditOutcomeError, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "reconciliation failed"})
			return
		}

		h.finishAudit(ctx, rec, true, string(res.Outcome), "")
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": string(res.Outcome)})
	}
}

// methodConfig loads the provider's method config for signature secrets
// and tolerance. A missing method is not fatal: verification is skipped
// only when no secret is configured anywhere.
func (h *Handler) methodConfig(c *gin.Context, providerCode string) (provider.Config, int) {
	method, err := h.store.MethodByProvider(c.Request.Context(), providerCode)
	if err != nil {
		return provider.Config{}, -1
	}
	cfg, err := provider.ParseConfig(method.Config)
	if err != nil {
		logging.L(c.Request.Context()).Warn("bad method config", "provider", providerCode, "error", err)
		return provider.Config{}, -1
	}
	if cfg.ToleranceBps > 0 {
		return cfg, cfg.ToleranceBps
	}
	return cfg, -1
}

// finishAudit records the processing outcome exactly once. Best-effort: a
// failed audit update is logged, not surfaced, since the ledger already
// holds the authoritative state.
func (h *Handler) finishAudit(ctx context.Context, rec *ledger.WebhookAuditRecord, processed bool, outcome, errMsg string) {
	now := time.Now()
	rec.Processed = processed
	rec.Outcome = outcome
	rec.ErrorMessage = errMsg
	rec.ProcessedAt = &now
	if err := h.store.UpdateAuditRecord(ctx, rec); err != nil {
		logging.L(ctx).Warn("audit record update failed", "record", rec.PublicID, "error", err)
	}
}
