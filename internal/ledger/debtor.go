package ledger

import (
	"strings"
	"time"

	"github.com/hogarperu/rentals/internal/money"
)

// DebtorStatus derives from the running balance.
type DebtorStatus string

const (
	DebtorCurrent   DebtorStatus = "current"
	DebtorOverdue   DebtorStatus = "overdue"
	DebtorCompleted DebtorStatus = "completed"
)

// Debtor is the running balance a tenant owes against one property. The
// natural key is (property, lowercased email); the row is created lazily
// the first time a payment or booking needs a ledger holder and is never
// deleted automatically.
type Debtor struct {
	PublicID    string       `json:"publicId"`
	PropertyRef string       `json:"propertyRef"`
	OwnerRef    string       `json:"ownerRef"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Phone       string       `json:"phone,omitempty"`
	MonthlyRent money.Amount `json:"monthlyRent"`
	DebtAmount  money.Amount `json:"debtAmount"`
	Status      DebtorStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// NormalizeEmail lowercases and trims an email for natural-key lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ApplyPayment reduces the running debt by the paid amount, floored at
// zero, and rederives the status. Failed or cancelled settlements must not
// call this; debt only ever moves on success.
func (d *Debtor) ApplyPayment(paid money.Amount) {
	if paid < 0 {
		return
	}
	d.DebtAmount -= paid
	if d.DebtAmount < 0 {
		d.DebtAmount = 0
	}
	d.RederiveStatus()
}

// RederiveStatus recomputes the status from the balance. debt == 0 means
// current; anything outstanding is overdue. "completed" is set explicitly
// when a lease ends and is preserved here.
func (d *Debtor) RederiveStatus() {
	if d.Status == DebtorCompleted {
		return
	}
	if d.DebtAmount > 0 {
		d.Status = DebtorOverdue
	} else {
		d.Status = DebtorCurrent
	}
}
