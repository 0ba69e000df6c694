package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrDebtorNotFound   = errors.New("debtor not found")
	ErrMethodNotFound   = errors.New("payment method not found")
	ErrAuditNotFound    = errors.New("audit record not found")
	ErrDuplicatePublicID = errors.New("public id already exists")
)

// InvoiceFilter narrows invoice listings. CreatedBefore backs cursor
// pagination: only invoices created strictly before it are returned.
type InvoiceFilter struct {
	Status        InvoiceStatus
	Provider      string
	CreatedBefore time.Time
	Limit         int
}

// Tx is the set of ledger operations available inside one atomic unit of
// work. Reads inside a transaction lock the row for the duration of the
// unit (SELECT ... FOR UPDATE on Postgres).
type Tx interface {
	InvoiceByPublicID(ctx context.Context, publicID string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	PaymentByPublicID(ctx context.Context, publicID string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error

	BookingByPublicID(ctx context.Context, publicID string) (*Booking, error)
	UpdateBooking(ctx context.Context, b *Booking) error

	DebtorByPublicID(ctx context.Context, publicID string) (*Debtor, error)
	// GetOrCreateDebtor is the centralized idempotent upsert keyed by the
	// debtor's natural key (property, email). When a row already exists it
	// is returned and the candidate is discarded.
	GetOrCreateDebtor(ctx context.Context, candidate *Debtor) (*Debtor, error)
	UpdateDebtor(ctx context.Context, d *Debtor) error
}

// Store persists the ledger. The non-transactional reads mirror Tx for
// callers that only need a snapshot; mutations that must be all-or-nothing
// go through Atomic.
type Store interface {
	Tx

	// Atomic runs fn inside one unit of work: every ledger mutation fn
	// performs is durably applied together or not at all.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	CreateInvoice(ctx context.Context, inv *Invoice) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, error)
	// ListExpiredPending returns PENDING invoices whose expires_at is
	// before now, for the expiration sweep.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Invoice, error)

	CreatePayment(ctx context.Context, p *Payment) error
	CreateBooking(ctx context.Context, b *Booking) error

	MethodByCode(ctx context.Context, code string) (*PaymentMethod, error)
	// MethodByProvider returns the active method configured for a provider
	// code; webhook ingestion uses it to find verification secrets.
	MethodByProvider(ctx context.Context, provider string) (*PaymentMethod, error)
	CreateMethod(ctx context.Context, m *PaymentMethod) error

	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userRef string, limit int) ([]*Notification, error)

	CreateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error
	UpdateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error
	ListAuditRecords(ctx context.Context, provider string, limit int) ([]*WebhookAuditRecord, error)
}
