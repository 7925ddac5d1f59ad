package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"festival-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completedPayPalOrder = `{
	"id": "ORDER-1",
	"status": "COMPLETED",
	"purchase_units": [{
		"reference_id": "user-1",
		"payments": {"captures": [{"id": "CAP-1", "status": "COMPLETED", "amount": {"currency_code": "AUD", "value": "85.00"}}]}
	}]
}`

type payPalStub struct {
	tokenCalls   int32
	captureReply func(w http.ResponseWriter)
}

func (s *payPalStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/oauth2/token":
			atomic.AddInt32(&s.tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			_, _ = w.Write([]byte(`{"access_token":"A21","token_type":"Bearer","expires_in":32400}`))
			return
		case r.Header.Get("Authorization") != "Bearer A21":
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/checkout/orders":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "CAPTURE", body["intent"])
			units := body["purchase_units"].([]any)
			amount := units[0].(map[string]any)["amount"].(map[string]any)
			assert.Equal(t, "85.00", amount["value"])
			assert.Equal(t, "AUD", amount["currency_code"])
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[{"href":"https://paypal.test/approve/ORDER-1","rel":"approve"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/checkout/orders/ORDER-1/capture":
			s.captureReply(w)
		case r.Method == http.MethodGet && r.URL.Path == "/v2/checkout/orders/ORDER-1":
			_, _ = w.Write([]byte(completedPayPalOrder))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newPayPalForTest(t *testing.T, stub *payPalStub) *PayPalGateway {
	return NewPayPalGateway(PayPalConfig{ClientID: "client", ClientSecret: "secret", BaseURL: stub.server(t).URL})
}

func TestPayPalGateway_CreateIntentAndCapture(t *testing.T) {
	stub := &payPalStub{captureReply: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(completedPayPalOrder))
	}}
	gateway := newPayPalForTest(t, stub)
	ctx := context.Background()

	handle, err := gateway.CreateIntent(ctx, models.FromCents(8500), "aud", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", handle.IntentID)
	assert.Equal(t, "https://paypal.test/approve/ORDER-1", handle.ApprovalURL)

	conf, err := gateway.Confirm(ctx, *handle)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationSucceeded, conf.Status)
	assert.Equal(t, "CAP-1", conf.TransactionID)
	assert.Equal(t, "85.00", models.FormatMoney(conf.Captured))

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.tokenCalls), "access token is cached")
}

func TestPayPalGateway_CaptureOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus ConfirmationStatus
		wantErr    error
	}{
		{
			name:       "already captured reads the order back",
			status:     http.StatusUnprocessableEntity,
			body:       `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
			wantStatus: ConfirmationSucceeded,
		},
		{
			name:       "buyer has not approved yet",
			status:     http.StatusUnprocessableEntity,
			body:       `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_NOT_APPROVED"}]}`,
			wantStatus: ConfirmationPending,
		},
		{
			name:       "instrument declined",
			status:     http.StatusUnprocessableEntity,
			body:       `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED","description":"The instrument presented was declined."}]}`,
			wantStatus: ConfirmationFailed,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			wantErr: models.ErrGatewayFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &payPalStub{captureReply: func(w http.ResponseWriter) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}}
			gateway := newPayPalForTest(t, stub)

			conf, err := gateway.Confirm(context.Background(), models.IntentHandle{IntentID: "ORDER-1"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, conf.Status)
		})
	}
}

func TestPayPalWebhookEvent_OrderID(t *testing.T) {
	var event PayPalWebhookEvent
	require.NoError(t, json.Unmarshal([]byte(`{
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {"id": "CAP-1", "supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}}
	}`), &event))
	assert.Equal(t, "ORDER-1", event.OrderID())

	event = PayPalWebhookEvent{}
	require.NoError(t, json.Unmarshal([]byte(`{"event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ORDER-2"}}`), &event))
	assert.Equal(t, "ORDER-2", event.OrderID())
}
