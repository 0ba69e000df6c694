// Package checkout mints invoices and opens provider checkout sessions.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hogarperu/rentals/internal/circuitbreaker"
	"github.com/hogarperu/rentals/internal/idgen"
	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/logging"
	"github.com/hogarperu/rentals/internal/provider"
	"github.com/hogarperu/rentals/internal/retry"
	"github.com/hogarperu/rentals/internal/security"
)

// ErrProviderMismatch is returned when a method's provider has no adapter.
var ErrProviderMismatch = errors.New("payment method has no matching provider adapter")

// ErrBadRedirectURL is returned when a caller-supplied return or cancel URL
// fails the endpoint safety check.
var ErrBadRedirectURL = errors.New("redirect URL not allowed")

// ErrProviderUnavailable is returned while a provider's circuit is open.
var ErrProviderUnavailable = errors.New("provider temporarily unavailable")

// Outbound create calls retry transient network failures before the
// invoice is handed back without a URL.
const (
	createAttempts = 3
	createBackoff  = 200 * time.Millisecond
)

// URLs are the public endpoints baked into provider requests.
type URLs struct {
	FrontendURL string // return/cancel landing pages
	BackendURL  string // webhook notification base
}

// Service creates payment links. It holds no ledger locks across provider
// calls: the invoice is minted PENDING first, then the network call runs,
// then the external reference is persisted.
type Service struct {
	store      ledger.Store
	registry   *provider.Registry
	urls       URLs
	invoiceTTL time.Duration
	breaker    *circuitbreaker.Breaker
	now        func() time.Time
}

// NewService creates a checkout service.
func NewService(store ledger.Store, registry *provider.Registry, urls URLs, invoiceTTL time.Duration) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		urls:       urls,
		invoiceTTL: invoiceTTL,
		breaker:    circuitbreaker.New(5, 30*time.Second),
		now:        time.Now,
	}
}

// CreatePaymentLink mints a PENDING invoice for the payment and opens a
// checkout session with the method's provider. On a provider failure the
// invoice stays PENDING without an external URL; the caller may retry,
// which mints a fresh invoice for the same payment.
func (s *Service) CreatePaymentLink(ctx context.Context, paymentID, methodCode, returnURL, cancelURL string) (*ledger.Invoice, error) {
	// Caller-supplied redirects end up in provider requests; block internal
	// targets before anything is persisted.
	for _, u := range []string{returnURL, cancelURL} {
		if u == "" {
			continue
		}
		if err := security.ValidateEndpointURL(u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRedirectURL, err)
		}
	}

	pay, err := s.store.PaymentByPublicID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.Status == ledger.PaymentPaid {
		return nil, &ledger.TransitionError{
			InvoiceRef: paymentID,
			From:       ledger.InvoicePaid,
			To:         ledger.InvoicePending,
			Reason:     "payment already settled",
		}
	}

	method, err := s.store.MethodByCode(ctx, methodCode)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(method.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: method %s wants %s", ErrProviderMismatch, methodCode, method.Provider)
	}
	cfg, err := provider.ParseConfig(method.Config)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(s.invoiceTTL)
	inv := &ledger.Invoice{
		PublicID:   idgen.New(idgen.PrefixInvoice),
		PaymentRef: pay.PublicID,
		Amount:     pay.Amount,
		Currency:   pay.Currency,
		Provider:   method.Provider,
		Status:     ledger.InvoicePending,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	payerName, payerEmail := s.payerDetails(ctx, pay)
	if returnURL == "" {
		returnURL = s.urls.FrontendURL + "/payment/success"
	}
	if cancelURL == "" {
		cancelURL = s.urls.FrontendURL + "/payment/failed"
	}

	session, err := s.openSession(ctx, adapter, provider.CreateParams{
		OrderRef:    inv.PublicID,
		Amount:      inv.Amount,
		Currency:    inv.Currency,
		Description: fmt.Sprintf("Pago de alquiler - %s", pay.Period),
		PayerName:   payerName,
		PayerEmail:  payerEmail,
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
		NotifyURL:   s.urls.BackendURL + "/webhooks/" + method.Provider,
	}, cfg)
	if err != nil {
		// The invoice stays PENDING and will be swept if never paid.
		logging.L(ctx).Warn("checkout session failed",
			"invoice", inv.PublicID, "provider", method.Provider, "error", err)
		return nil, err
	}

	inv.ExternalID = session.ExternalID
	inv.ExternalURL = session.ExternalURL
	inv.Metadata = session.Raw
	if err := s.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payment link created",
		"invoice", inv.PublicID, "payment", pay.PublicID, "provider", method.Provider)
	return inv, nil
}

// openSession runs the outbound create call behind the per-provider
// circuit breaker, retrying transient network failures. Adapter errors
// that are not *NetworkError (bad config, rejected params) never retry.
func (s *Service) openSession(ctx context.Context, adapter provider.Adapter, params provider.CreateParams, cfg provider.Config) (*provider.CheckoutSession, error) {
	code := adapter.Code()
	if !s.breaker.Allow(code) {
		return nil, &provider.NetworkError{Provider: code, Op: "create", Err: ErrProviderUnavailable}
	}

	var session *provider.CheckoutSession
	err := retry.Do(ctx, createAttempts, createBackoff, func() error {
		sess, err := adapter.CreateRequest(ctx, params, cfg)
		if err != nil {
			var nerr *provider.NetworkError
			if errors.As(err, &nerr) {
				return err
			}
			return retry.Permanent(err)
		}
		session = sess
		return nil
	})
	if err != nil {
		var nerr *provider.NetworkError
		if errors.As(err, &nerr) {
			s.breaker.RecordFailure(code)
		}
		return nil, err
	}
	s.breaker.RecordSuccess(code)
	return session, nil
}

// payerDetails pulls name and email off the debtor when the payment has
// one. Checkout still works for payments without a ledger holder yet.
func (s *Service) payerDetails(ctx context.Context, pay *ledger.Payment) (name, email string) {
	if pay.DebtorRef == "" {
		return "", ""
	}
	debtor, err := s.store.DebtorByPublicID(ctx, pay.DebtorRef)
	if err != nil {
		return "", ""
	}
	return debtor.Name, debtor.Email
}

// Invoice returns one invoice by public ID.
func (s *Service) Invoice(ctx context.Context, publicID string) (*ledger.Invoice, error) {
	return s.store.InvoiceByPublicID(ctx, publicID)
}

// ListInvoices lists invoices, optionally filtered by status and provider.
func (s *Service) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]*ledger.Invoice, error) {
	return s.store.ListInvoices(ctx, f)
}
