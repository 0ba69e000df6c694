package ledger

import (
	"encoding/json"
	"time"
)

// PaymentMethod is a catalog entry mapping a method code to a provider and
// its opaque configuration blob (API endpoint, credentials, webhook secret,
// tolerance). The record-management surface owns the blob's contents; this
// core only hands it to the matching adapter.
type PaymentMethod struct {
	PublicID  string          `json:"publicId"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"` // "traditional" or "crypto"
	Provider  string          `json:"provider"`
	Active    bool            `json:"active"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
