package ledger

import (
	"time"

	"github.com/hogarperu/rentals/internal/money"
)

// PaymentStatus is the state of a ledger row for an amount owed.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Payment is the amount a debtor owes for one period. Manual and cash
// payments may be marked PAID with no invoice attached; provider-collected
// payments reference the invoice that settled them.
type Payment struct {
	PublicID   string        `json:"publicId"`
	DebtorRef  string        `json:"debtorRef"`
	Period     string        `json:"period"` // e.g. "2026-08"
	Amount     money.Amount  `json:"amount"`
	Currency   string        `json:"currency"`
	MethodCode string        `json:"methodCode,omitempty"`
	Status     PaymentStatus `json:"status"`
	PaidAt     *time.Time    `json:"paidAt,omitempty"`
	InvoiceRef string        `json:"invoiceRef,omitempty"` // empty for manual/cash payments
	BookingRef string        `json:"bookingRef,omitempty"` // set when the payment settles a booking
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}
