package checkout

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/pagination"
	"github.com/hogarperu/rentals/internal/provider"
)

// Handler provides HTTP endpoints for the invoice surface.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the invoice routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/invoices", h.CreatePaymentLink)
	r.GET("/invoices/:id", h.GetInvoice)
	r.GET("/invoices", h.ListInvoices)
}

type createPaymentLinkRequest struct {
	PaymentID  string `json:"payment_id" binding:"required"`
	MethodCode string `json:"method_code" binding:"required"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreatePaymentLink handles POST /v1/invoices
func (h *Handler) CreatePaymentLink(c *gin.Context) {
	var req createPaymentLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	inv, err := h.service.CreatePaymentLink(c.Request.Context(), req.PaymentID, req.MethodCode, req.ReturnURL, req.CancelURL)
	if err != nil {
		status, code := createErrorStatus(err)
		c.JSON(status, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"invoice": inv})
}

func createErrorStatus(err error) (int, string) {
	var netErr *provider.NetworkError
	var terr *ledger.TransitionError
	switch {
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, ledger.ErrMethodNotFound):
		return http.StatusNotFound, "method_not_found"
	case errors.Is(err, ErrBadRedirectURL):
		return http.StatusBadRequest, "invalid_redirect_url"
	case errors.As(err, &terr):
		return http.StatusConflict, "already_settled"
	case errors.As(err, &netErr):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// GetInvoice handles GET /v1/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	inv, err := h.service.Invoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No invoice found with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// ListInvoices handles GET /v1/invoices
func (h *Handler) ListInvoices(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	filter := ledger.InvoiceFilter{
		Status:   ledger.InvoiceStatus(c.Query("status")),
		Provider: c.Query("provider"),
		Limit:    limit + 1, // one extra row decides has_more
	}
	if cursor != nil {
		filter.CreatedBefore = cursor.CreatedAt
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(invoices, limit, func(inv *ledger.Invoice) (time.Time, string) {
		return inv.CreatedAt, inv.PublicID
	})

	c.JSON(http.StatusOK, gin.H{
		"invoices":    page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}
