package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"festival-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStripeTestServer answers the PaymentIntent endpoints the way the Stripe
// API does, serving intent for retrieval
func newStripeTestServer(t *testing.T, intent map[string]any) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var mu sync.Mutex
	var requests []*http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, r.ParseForm())
		requests = append(requests, r)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			created := map[string]any{"object": "payment_intent", "status": "requires_payment_method"}
			for k, v := range intent {
				if k != "status" {
					created[k] = v
				}
			}
			_ = json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/"+intent["id"].(string):
			_ = json.NewEncoder(w).Encode(intent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`))
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	server, requests := newStripeTestServer(t, map[string]any{"id": "pi_1", "client_secret": "pi_1_secret", "amount": 8500, "currency": "aud"})
	gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: server.URL})

	handle, err := gateway.CreateIntent(context.Background(), models.FromCents(8500), "AUD", "user-1")
	require.NoError(t, err)

	assert.Equal(t, "stripe", handle.Gateway)
	assert.Equal(t, "pi_1", handle.IntentID)
	assert.Equal(t, "pi_1_secret", handle.ClientSecret)
	assert.Equal(t, "AUD", handle.Currency)

	require.Len(t, *requests, 1)
	form := (*requests)[0].PostForm
	assert.Equal(t, "8500", form.Get("amount"))
	assert.Equal(t, "aud", form.Get("currency"))
	assert.Equal(t, "user-1", form.Get("metadata[customer_ref]"))
}

func TestStripeGateway_CreateIntentRejectsSubCentAmounts(t *testing.T) {
	gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: "http://127.0.0.1:0"})
	amount, err := models.ParseMoney("10.005")
	require.NoError(t, err)

	_, err = gateway.CreateIntent(context.Background(), amount, "AUD", "user-1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStripeGateway_Confirm(t *testing.T) {
	tests := []struct {
		name       string
		intent     map[string]any
		wantStatus ConfirmationStatus
		wantTxn    string
		wantAmount string
		wantReason string
	}{
		{
			name:       "succeeded",
			intent:     map[string]any{"id": "pi_1", "status": "succeeded", "amount": 8500, "amount_received": 8500, "currency": "aud", "latest_charge": "ch_1"},
			wantStatus: ConfirmationSucceeded,
			wantTxn:    "ch_1",
			wantAmount: "85.00",
		},
		{
			name:       "processing",
			intent:     map[string]any{"id": "pi_1", "status": "processing"},
			wantStatus: ConfirmationPending,
		},
		{
			name:       "declined",
			intent:     map[string]any{"id": "pi_1", "status": "requires_payment_method", "last_payment_error": map[string]any{"code": "card_declined", "message": "Your card was declined."}},
			wantStatus: ConfirmationFailed,
			wantReason: "Your card was declined.",
		},
		{
			name:       "canceled",
			intent:     map[string]any{"id": "pi_1", "status": "canceled", "cancellation_reason": "abandoned"},
			wantStatus: ConfirmationFailed,
			wantReason: "abandoned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newStripeTestServer(t, tt.intent)
			gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: server.URL})

			conf, err := gateway.Confirm(context.Background(), models.IntentHandle{IntentID: "pi_1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, conf.Status)
			if tt.wantStatus == ConfirmationSucceeded {
				assert.Equal(t, tt.wantTxn, conf.TransactionID)
				assert.Equal(t, tt.wantAmount, models.FormatMoney(conf.Captured))
				assert.Equal(t, "AUD", conf.Currency)
			}
			assert.Equal(t, tt.wantReason, conf.Reason)
		})
	}
}

func TestStripeGateway_APIErrorIsGatewayFailure(t *testing.T) {
	server, _ := newStripeTestServer(t, map[string]any{"id": "pi_1", "status": "processing"})
	gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: server.URL})

	_, err := gateway.Confirm(context.Background(), models.IntentHandle{IntentID: "pi_missing"})
	assert.ErrorIs(t, err, models.ErrGatewayFailure)
	assert.Contains(t, err.Error(), "No such payment_intent")
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_abc"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`)
	now := time.Now()

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr error
	}{
		{"valid", payload, SignStripePayload("whsec_abc", payload, now), nil},
		{"wrong secret", payload, SignStripePayload("whsec_other", payload, now), models.ErrUnauthorized},
		{"stale timestamp", payload, SignStripePayload("whsec_abc", payload, now.Add(-10*time.Minute)), models.ErrUnauthorized},
		{"modified body", append([]byte(" "), payload...), SignStripePayload("whsec_abc", payload, now), models.ErrUnauthorized},
		{"malformed", payload, "v1=deadbeef", models.ErrUnauthorized},
		{"empty", payload, "", models.ErrUnauthorized},
		{"signed garbage", []byte("not json"), SignStripePayload("whsec_abc", []byte("not json"), now), models.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := gateway.ParseWebhook(tt.payload, tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "evt_1", event.ID)
			assert.Equal(t, "payment_intent.succeeded", event.Type)
			assert.Equal(t, "pi_1", event.Intent.ID)
		})
	}
}

func TestStripeGateway_ParseWebhookWithoutSecret(t *testing.T) {
	gateway := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123"})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded"}`)

	_, err := gateway.ParseWebhook(payload, SignStripePayload("", payload, time.Now()))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
