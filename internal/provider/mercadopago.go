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

// MercadoPago is the hosted-checkout gateway. CreateRequest opens a
// checkout preference and returns its init point; webhooks carry the
// payment outcome as an approved/pending/rejected trio.
type MercadoPago struct {
	client *http.Client
}

func NewMercadoPago(client *http.Client) *MercadoPago {
	return &MercadoPago{client: client}
}

func (m *MercadoPago) Code() string { return CodeMercadoPago }

type mpPreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPreferenceRequest struct {
	Items             []mpPreferenceItem `json:"items"`
	Payer             mpPayer            `json:"payer"`
	ExternalReference string             `json:"external_reference"`
	NotificationURL   string             `json:"notification_url,omitempty"`
	BackURLs          mpBackURLs         `json:"back_urls"`
	AutoReturn        string             `json:"auto_return"`
}

type mpPayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (m *MercadoPago) CreateRequest(ctx context.Context, params CreateParams, cfg Config) (*CheckoutSession, error) {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.mercadopago.com"
	}

	body, err := json.Marshal(mpPreferenceRequest{
		Items: []mpPreferenceItem{{
			Title:      params.Description,
			Quantity:   1,
			UnitPrice:  params.Amount.Float(),
			CurrencyID: params.Currency,
		}},
		Payer:             mpPayer{Name: params.PayerName, Email: params.PayerEmail},
		ExternalReference: params.OrderRef,
		NotificationURL:   params.NotifyURL,
		BackURLs: mpBackURLs{
			Success: params.ReturnURL,
			Failure: params.CancelURL,
			Pending: params.ReturnURL,
		},
		AutoReturn: "approved",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build preference request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: CodeMercadoPago, Op: "create preference", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Provider: CodeMercadoPago, Op: "read preference response", Err: err}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Provider: CodeMercadoPago, Op: "create preference",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256))}
	}

	var pref mpPreferenceResponse
	if err := json.Unmarshal(raw, &pref); err != nil {
		return nil, fmt.Errorf("decode preference response: %w", err)
	}
	if pref.InitPoint == "" {
		return nil, &NetworkError{Provider: CodeMercadoPago, Op: "create preference",
			Err: fmt.Errorf("response missing init_point")}
	}
	return &CheckoutSession{ExternalID: pref.ID, ExternalURL: pref.InitPoint, Raw: raw}, nil
}

// mpWebhook is the delivery shape: an envelope with the event type and the
// payment snapshot under data.
type mpWebhook struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID                string  `json:"id"`
		Status            string  `json:"status"`
		ExternalReference string  `json:"external_reference"`
		TransactionAmount float64 `json:"transaction_amount"`
		CurrencyID        string  `json:"currency_id"`
	} `json:"data"`
}

func (m *MercadoPago) ParseWebhook(raw []byte, signature string, cfg Config) (*CanonicalEvent, error) {
	if cfg.WebhookSecret != "" {
		if signature == "" {
			return nil, &VerificationError{Provider: CodeMercadoPago, Reason: "missing signature"}
		}
		if !verifyHMAC256(raw, signature, cfg.WebhookSecret) {
			return nil, &VerificationError{Provider: CodeMercadoPago, Reason: "signature mismatch"}
		}
	}

	var wh mpWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, &VerificationError{Provider: CodeMercadoPago, Reason: "malformed payload"}
	}
	if wh.Type != "payment" {
		return nil, ErrEventIgnored
	}

	var status Status
	switch wh.Data.Status {
	case "approved":
		status = StatusPaid
	case "pending", "in_process":
		status = StatusPending
	case "rejected":
		status = StatusFailed
	case "cancelled":
		status = StatusCancelled
	default:
		return nil, ErrEventIgnored
	}

	return &CanonicalEvent{
		Provider:   CodeMercadoPago,
		OrderRef:   wh.Data.ExternalReference,
		ExternalID: wh.Data.ID,
		EventType:  wh.Type,
		Status:     status,
		Amount:     money.FromFloat(wh.Data.TransactionAmount),
		Currency:   wh.Data.CurrencyID,
		Metadata:   json.RawMessage(raw),
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
