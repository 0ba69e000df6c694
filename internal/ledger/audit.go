package ledger

import (
	"encoding/json"
	"time"
)

// Audit outcomes recorded for each webhook delivery.
const (
	AuditOutcomeProcessed = "processed"
	AuditOutcomeDuplicate = "duplicate"
	AuditOutcomeIgnored   = "ignored"
	AuditOutcomeRejected  = "rejected"
	AuditOutcomeError     = "error"
)

// WebhookAuditRecord is the append-only log of one inbound delivery. It is
// written before any business logic runs and updated exactly once when
// processing finishes, so replays and incidents can be reconstructed from
// the raw payloads alone.
type WebhookAuditRecord struct {
	PublicID     string          `json:"publicId"`
	Provider     string          `json:"provider"`
	EventType    string          `json:"eventType,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	ReceivedAt   time.Time       `json:"receivedAt"`
	Processed    bool            `json:"processed"`
	Outcome      string          `json:"outcome,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
}
