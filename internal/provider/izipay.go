package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hogarperu/rentals/internal/money"
)

// Izipay is the direct-capture gateway. Amounts cross the wire in integer
// cents and the webhook carries the final status directly in the payload
// as a finished/failed/cancelled trio.
type Izipay struct {
	client *http.Client
}

func NewIzipay(client *http.Client) *Izipay {
	return &Izipay{client: client}
}

func (i *Izipay) Code() string { return CodeIzipay }

type izipayCreateRequest struct {
	Amount    int64          `json:"amount"` // cents
	Currency  string         `json:"currency"`
	OrderID   string         `json:"orderId"`
	Customer  izipayCustomer `json:"customer"`
	NotifyURL string         `json:"notificationUrl,omitempty"`
	ReturnURL string         `json:"returnUrl,omitempty"`
	CancelURL string         `json:"cancelUrl,omitempty"`
}

type izipayCustomer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type izipayCreateResponse struct {
	PaymentID  string `json:"paymentId"`
	PaymentURL string `json:"paymentUrl"`
}

func (i *Izipay) CreateRequest(ctx context.Context, params CreateParams, cfg Config) (*CheckoutSession, error) {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.izipay.pe"
	}

	body, err := json.Marshal(izipayCreateRequest{
		Amount:    int64(params.Amount),
		Currency:  params.Currency,
		OrderID:   params.OrderRef,
		Customer:  izipayCustomer{Name: params.PayerName, Email: params.PayerEmail},
		NotifyURL: params.NotifyURL,
		ReturnURL: params.ReturnURL,
		CancelURL: params.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: CodeIzipay, Op: "create payment", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Provider: CodeIzipay, Op: "read payment response", Err: err}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Provider: CodeIzipay, Op: "create payment",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256))}
	}

	var created izipayCreateResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	if created.PaymentURL == "" {
		return nil, &NetworkError{Provider: CodeIzipay, Op: "create payment",
			Err: fmt.Errorf("response missing paymentUrl")}
	}
	return &CheckoutSession{ExternalID: created.PaymentID, ExternalURL: created.PaymentURL, Raw: raw}, nil
}

type izipayWebhook struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"` // cents
	Currency  string `json:"currency"`
}

func (i *Izipay) ParseWebhook(raw []byte, signature string, cfg Config) (*CanonicalEvent, error) {
	if cfg.WebhookSecret != "" {
		if signature == "" {
			return nil, &VerificationError{Provider: CodeIzipay, Reason: "missing signature"}
		}
		if !verifyHMAC256(raw, signature, cfg.WebhookSecret) {
			return nil, &VerificationError{Provider: CodeIzipay, Reason: "signature mismatch"}
		}
	}

	var wh izipayWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, &VerificationError{Provider: CodeIzipay, Reason: "malformed payload"}
	}

	var status Status
	switch wh.Status {
	case "finished":
		status = StatusPaid
	case "failed":
		status = StatusFailed
	case "cancelled":
		status = StatusCancelled
	default:
		return nil, ErrEventIgnored
	}

	return &CanonicalEvent{
		Provider:   CodeIzipay,
		OrderRef:   wh.OrderID,
		ExternalID: wh.PaymentID,
		EventType:  "payment",
		Status:     status,
		Amount:     money.Amount(wh.Amount),
		Currency:   wh.Currency,
		Metadata:   json.RawMessage(raw),
	}, nil
}
