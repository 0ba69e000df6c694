package ledger

import (
	"encoding/json"
	"time"
)

// Notification is a one-way message surfaced by a settlement outcome.
// Created as a side effect of reconciliation; never mutated by this core
// beyond the read flag the user flips.
type Notification struct {
	PublicID  string          `json:"publicId"`
	UserRef   string          `json:"userRef"`
	Type      string          `json:"type"` // payment_completed, payment_failed, payment_received
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	ActionURL string          `json:"actionUrl,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}
