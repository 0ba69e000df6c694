package ledger

import "time"

// BookingPaymentStatus mirrors the settlement outcome onto the booking.
type BookingPaymentStatus string

const (
	BookingPaymentPending    BookingPaymentStatus = "PENDING"
	BookingPaymentConfirming BookingPaymentStatus = "CONFIRMING"
	BookingPaymentPaid       BookingPaymentStatus = "PAID"
	BookingPaymentFailed     BookingPaymentStatus = "FAILED"
	BookingPaymentCancelled  BookingPaymentStatus = "CANCELLED"
)

// Booking process statuses (from the process-status catalog).
const (
	BookingReserved  = "reserved"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking is a reservation whose payment status shadows the settlement
// flow. Invariant: PaymentStatus PAID coincides with Status "confirmed";
// the reconciliation engine always writes the two together.
type Booking struct {
	PublicID      string               `json:"publicId"`
	PropertyRef   string               `json:"propertyRef"`
	PropertyTitle string               `json:"propertyTitle,omitempty"`
	OwnerRef      string               `json:"ownerRef"`
	TenantRef     string               `json:"tenantRef"`
	TenantEmail   string               `json:"tenantEmail"`
	Status        string               `json:"status"` // process status code
	PaymentStatus BookingPaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}
