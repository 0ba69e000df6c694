// Package ledger holds the payment ledger entities and their persistence.
//
// Flow:
//  1. The booking workflow creates a Payment (amount owed for a period)
//  2. Checkout mints an Invoice for one collection attempt via one provider
//  3. A provider webhook settles the invoice; the reconciliation engine
//     fans the outcome out to Payment, Booking and the Debtor balance
//
// Invoices are never deleted; every attempt stays on record.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hogarperu/rentals/internal/money"
)

// InvoiceStatus is the lifecycle state of a collection attempt.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceFailed    InvoiceStatus = "FAILED"
	InvoiceExpired   InvoiceStatus = "EXPIRED"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoicePaid || s == InvoiceFailed || s == InvoiceExpired || s == InvoiceCancelled
}

// CanTransition reports whether moving from s to next is a legal edge.
// The only legal edges leave PENDING; a terminal state accepts nothing.
// Redelivery of the event that produced a terminal state is handled one
// level up as a no-op, not as a transition.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	return s == InvoicePending && next.Terminal()
}

// TransitionError describes a rejected invoice state change.
type TransitionError struct {
	InvoiceRef string
	From, To   InvoiceStatus
	Reason     string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invoice %s: illegal transition %s -> %s: %s", e.InvoiceRef, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invoice %s: illegal transition %s -> %s", e.InvoiceRef, e.From, e.To)
}

// Invoice is one attempt, through one provider, to collect one Payment's
// amount.
type Invoice struct {
	PublicID    string          `json:"publicId"`
	PaymentRef  string          `json:"paymentRef"`
	Amount      money.Amount    `json:"amount"`
	Currency    string          `json:"currency"`
	Provider    string          `json:"provider"` // provider code: mercadopago, izipay, nowpayments
	Status      InvoiceStatus   `json:"status"`
	ExternalID  string          `json:"externalId,omitempty"`
	ExternalURL string          `json:"externalUrl,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"` // raw provider payloads, kept verbatim
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ExpiredAt reports whether the invoice is past its payment window at the
// given instant. A terminal invoice is never considered expired; expiry
// never overrides an outcome that already settled.
func (i *Invoice) ExpiredAt(now time.Time) bool {
	if i.Status.Terminal() || i.ExpiresAt == nil {
		return false
	}
	return now.After(*i.ExpiresAt)
}
