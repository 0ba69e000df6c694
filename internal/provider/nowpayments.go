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

// NowPayments is the crypto settlement network. The fiat price_amount is
// what ledger math uses; the settled-asset figures (pay_amount, pay
// currency, confirmations, tx hash) are preserved in event metadata only.
type NowPayments struct {
	client *http.Client
}

func NewNowPayments(client *http.Client) *NowPayments {
	return &NowPayments{client: client}
}

func (n *NowPayments) Code() string { return CodeNowPayments }

type npInvoiceRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency,omitempty"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	IPNCallbackURL   string  `json:"ipn_callback_url,omitempty"`
	SuccessURL       string  `json:"success_url,omitempty"`
	CancelURL        string  `json:"cancel_url,omitempty"`
}

type npInvoiceResponse struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

func (n *NowPayments) CreateRequest(ctx context.Context, params CreateParams, cfg Config) (*CheckoutSession, error) {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.nowpayments.io"
	}
	payCurrency := cfg.PayCurrency
	if payCurrency == "" {
		payCurrency = "btc"
	}

	body, err := json.Marshal(npInvoiceRequest{
		PriceAmount:      params.Amount.Float(),
		PriceCurrency:    params.Currency,
		PayCurrency:      payCurrency,
		OrderID:          params.OrderRef,
		OrderDescription: params.Description,
		IPNCallbackURL:   params.NotifyURL,
		SuccessURL:       params.ReturnURL,
		CancelURL:        params.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/v1/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoice request: %w", err)
	}
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: CodeNowPayments, Op: "create invoice", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Provider: CodeNowPayments, Op: "read invoice response", Err: err}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Provider: CodeNowPayments, Op: "create invoice",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256))}
	}

	var inv npInvoiceResponse
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	if inv.InvoiceURL == "" {
		return nil, &NetworkError{Provider: CodeNowPayments, Op: "create invoice",
			Err: fmt.Errorf("response missing invoice_url")}
	}
	return &CheckoutSession{ExternalID: inv.ID, ExternalURL: inv.InvoiceURL, Raw: raw}, nil
}

// npWebhook is the IPN callback shape. The crypto-side fields stay in
// metadata; only the fiat price drives the canonical amount.
type npWebhook struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	PayAmount     float64     `json:"pay_amount,omitempty"`
	PayCurrency   string      `json:"pay_currency,omitempty"`
	Confirmations int         `json:"confirmations,omitempty"`
	TxHash        string      `json:"tx_hash,omitempty"`
}

func (n *NowPayments) ParseWebhook(raw []byte, signature string, cfg Config) (*CanonicalEvent, error) {
	if cfg.WebhookSecret != "" {
		if signature == "" {
			return nil, &VerificationError{Provider: CodeNowPayments, Reason: "missing signature"}
		}
		if !verifyHMAC512(raw, signature, cfg.WebhookSecret) {
			return nil, &VerificationError{Provider: CodeNowPayments, Reason: "signature mismatch"}
		}
	}

	var wh npWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, &VerificationError{Provider: CodeNowPayments, Reason: "malformed payload"}
	}

	var status Status
	switch wh.PaymentStatus {
	case "finished":
		status = StatusPaid
	case "waiting", "partially_paid":
		status = StatusPending
	case "confirming":
		status = StatusConfirming
	case "failed", "refunded":
		status = StatusFailed
	case "expired":
		status = StatusExpired
	default:
		return nil, ErrEventIgnored
	}

	currency := wh.PriceCurrency
	if currency != "" {
		currency = normalizeCurrency(currency)
	}

	return &CanonicalEvent{
		Provider:   CodeNowPayments,
		OrderRef:   wh.OrderID,
		ExternalID: wh.PaymentID.String(),
		EventType:  "payment",
		Status:     status,
		Amount:     money.FromFloat(wh.PriceAmount),
		Currency:   currency,
		Metadata:   json.RawMessage(raw),
	}, nil
}

// normalizeCurrency uppercases ISO codes; nowpayments sends them lowercase.
func normalizeCurrency(c string) string {
	b := []byte(c)
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 32
		}
	}
	return string(b)
}
