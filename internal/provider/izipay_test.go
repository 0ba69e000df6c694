package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarperu/rentals/internal/money"
)

func TestIzipay_CreateRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req izipayCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Amounts cross the wire in cents.
		assert.Equal(t, int64(150000), req.Amount)
		assert.Equal(t, "inv_abc123", req.OrderID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"paymentId":  "izi-55",
			"paymentUrl": "https://secure.izipay.test/izi-55",
		})
	}))
	defer srv.Close()

	iz := NewIzipay(srv.Client())
	session, err := iz.CreateRequest(context.Background(), CreateParams{
		OrderRef: "inv_abc123",
		Amount:   money.Amount(150000),
		Currency: "PEN",
	}, Config{APIURL: srv.URL, APIKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "izi-55", session.ExternalID)
	assert.Equal(t, "https://secure.izipay.test/izi-55", session.ExternalURL)
}

func TestIzipay_ParseWebhook(t *testing.T) {
	payload := []byte(`{"orderId":"inv_abc123","paymentId":"izi-55","status":"finished","amount":150000,"currency":"PEN"}`)
	sig := SignHMAC256(payload, "whsec")

	iz := NewIzipay(nil)
	ev, err := iz.ParseWebhook(payload, sig, Config{WebhookSecret: "whsec"})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, ev.Status)
	assert.Equal(t, money.Amount(150000), ev.Amount)
	assert.Equal(t, "inv_abc123", ev.OrderRef)
}

func TestIzipay_ParseWebhook_StatusMapping(t *testing.T) {
	iz := NewIzipay(nil)
	cases := map[string]Status{
		"finished":  StatusPaid,
		"failed":    StatusFailed,
		"cancelled": StatusCancelled,
	}
	for raw, want := range cases {
		payload := []byte(`{"orderId":"inv_x","paymentId":"1","status":"` + raw + `"}`)
		ev, err := iz.ParseWebhook(payload, "", Config{})
		require.NoError(t, err, raw)
		assert.Equal(t, want, ev.Status, raw)
	}

	_, err := iz.ParseWebhook([]byte(`{"orderId":"inv_x","status":"created"}`), "", Config{})
	assert.True(t, errors.Is(err, ErrEventIgnored))
}

func TestIzipay_ParseWebhook_BadSignature(t *testing.T) {
	iz := NewIzipay(nil)
	_, err := iz.ParseWebhook([]byte(`{"orderId":"inv_x","status":"finished"}`), "bad", Config{WebhookSecret: "whsec"})
	var verr *VerificationError
	assert.ErrorAs(t, err, &verr)
}
