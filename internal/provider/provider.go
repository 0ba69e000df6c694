// Package provider integrates the external payment networks. Each network
// gets one Adapter that creates checkout sessions and normalizes webhook
// payloads into a CanonicalEvent. Adapters never touch the ledger; only
// the reconciliation engine writes.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hogarperu/rentals/internal/money"
)

// Provider codes. These match payment_methods.provider and the webhook
// route suffixes.
const (
	CodeMercadoPago = "mercadopago"
	CodeIzipay      = "izipay"
	CodeNowPayments = "nowpayments"
)

// Status is the provider-agnostic outcome of a payment event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirming Status = "CONFIRMING" // crypto: on-chain confirmations in progress
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status ends an invoice's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Config is the per-method configuration blob stored opaquely on the
// payment method catalog row. The record-management surface owns its
// contents; adapters only read it.
type Config struct {
	APIURL        string `json:"api_url"`
	APIKey        string `json:"api_key"`
	AccessToken   string `json:"access_token"`
	WebhookSecret string `json:"webhook_secret"`
	PayCurrency   string `json:"pay_currency,omitempty"` // crypto asset for nowpayments
	ToleranceBps  int    `json:"tolerance_bps"`
}

// ParseConfig decodes a method's opaque config blob.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse method config: %w", err)
	}
	return cfg, nil
}

// CreateParams carries everything an adapter needs to open a checkout
// session for one invoice.
type CreateParams struct {
	OrderRef    string // invoice public ID, round-trips as the external reference
	Amount      money.Amount
	Currency    string
	Description string
	PayerName   string
	PayerEmail  string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

// CheckoutSession is the result of a successful create call.
type CheckoutSession struct {
	ExternalID  string
	ExternalURL string
	Raw         json.RawMessage // provider response, persisted as invoice metadata
}

// CanonicalEvent is the normalized form of one webhook delivery. Amount and
// Currency are always the fiat values that drive ledger math; crypto-side
// figures (pay_amount, confirmations, tx hash) stay in Metadata.
type CanonicalEvent struct {
	Provider   string
	OrderRef   string // inv_... or bkg_... reference carried by the provider
	ExternalID string // provider-side payment ID
	EventType  string
	Status     Status
	Amount     money.Amount
	Currency   string
	Metadata   json.RawMessage // raw payload as received
}

// Adapter is one payment network integration.
type Adapter interface {
	// Code returns the provider code this adapter serves.
	Code() string

	// CreateRequest opens a checkout session with one HTTPS call. The
	// caller must not hold ledger locks; the shared client bounds the
	// timeout. Failures surface as *NetworkError, never a fabricated URL.
	CreateRequest(ctx context.Context, params CreateParams, cfg Config) (*CheckoutSession, error)

	// ParseWebhook verifies and normalizes a raw delivery. Authenticity
	// failures return *VerificationError; deliveries that carry no
	// payment outcome return ErrEventIgnored.
	ParseWebhook(raw []byte, signature string, cfg Config) (*CanonicalEvent, error)
}

// ErrEventIgnored marks a well-formed delivery that carries nothing to
// reconcile (test pings, non-payment event types).
var ErrEventIgnored = errors.New("event carries no payment outcome")

// ErrUnknownProvider is returned by the registry for unrecognized codes.
var ErrUnknownProvider = errors.New("unknown payment provider")

// VerificationError means the delivery failed authenticity checks. It is
// never retried and never reaches the reconciliation engine.
type VerificationError struct {
	Provider string
	Reason   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s webhook verification failed: %s", e.Provider, e.Reason)
}

// NetworkError wraps a failed or timed-out outbound provider call.
type NetworkError struct {
	Provider string
	Op       string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Registry holds the configured adapters, keyed by provider code. It is
// the single dispatch point for both checkout and webhook ingestion.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry with the three production adapters sharing
// one bounded-timeout HTTP client.
func NewRegistry(client *http.Client) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewMercadoPago(client))
	r.Register(NewIzipay(client))
	r.Register(NewNowPayments(client))
	return r
}

// Register adds or replaces an adapter. Tests use this to install fakes.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Code()] = a
}

// Get returns the adapter for a provider code.
func (r *Registry) Get(code string) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	return a, nil
}

// verifyHMAC256 checks a hex-encoded HMAC-SHA256 signature over the raw
// payload.
func verifyHMAC256(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// verifyHMAC512 checks a hex-encoded HMAC-SHA512 signature over the raw
// payload. nowpayments signs IPN callbacks this way.
func verifyHMAC512(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// SignHMAC256 produces the hex HMAC-SHA256 signature for a payload. Tests
// and outbound callers share it with the verification side.
func SignHMAC256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHMAC512 produces the hex HMAC-SHA512 signature for a payload.
func SignHMAC512(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
