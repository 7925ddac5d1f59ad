package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"festival-platform/internal/models"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeConfig represents Stripe payment gateway configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string // overridden in tests
}

// StripeGateway implements the card PaymentIntent flow with the Stripe client
type StripeGateway struct {
	config  StripeConfig
	intents *paymentintent.Client
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config StripeConfig) *StripeGateway {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
		MaxNetworkRetries: stripe.Int64(2),
	}
	if config.BaseURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(config.BaseURL, "/"))
	}
	return &StripeGateway{
		config: config,
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: config.SecretKey,
		},
	}
}

// Name implements PaymentGateway
func (s *StripeGateway) Name() string {
	return "stripe"
}

// CreateIntent opens a PaymentIntent for amount
func (s *StripeGateway) CreateIntent(ctx context.Context, amount models.Money, currency, customerRef string) (*models.IntentHandle, error) {
	cents, err := models.ToCents(amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("customer_ref", customerRef)

	intent, err := s.intents.New(params)
	if err != nil {
		return nil, s.apiError("create payment intent", err)
	}

	log.Printf("stripe: created payment intent %s for %s %s", intent.ID, models.FormatMoney(amount), currency)

	return &models.IntentHandle{
		Gateway:      s.Name(),
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
	}, nil
}

// Confirm retrieves the PaymentIntent and maps its status
func (s *StripeGateway) Confirm(ctx context.Context, handle models.IntentHandle) (*Confirmation, error) {
	intent, err := s.intents.Get(handle.IntentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, s.apiError("retrieve payment intent", err)
	}
	return stripeConfirmation(intent), nil
}

func stripeConfirmation(pi *stripe.PaymentIntent) *Confirmation {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		txID := pi.ID
		if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
			txID = pi.LatestCharge.ID
		}
		return &Confirmation{
			Status:        ConfirmationSucceeded,
			TransactionID: txID,
			Captured:      models.FromCents(pi.AmountReceived),
			Currency:      strings.ToUpper(string(pi.Currency)),
		}
	case stripe.PaymentIntentStatusCanceled:
		reason := string(pi.CancellationReason)
		if reason == "" {
			reason = "payment was cancelled"
		}
		return &Confirmation{Status: ConfirmationFailed, Reason: reason}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined card sends the intent back here with the decline attached
		if pi.LastPaymentError != nil {
			return &Confirmation{Status: ConfirmationFailed, Reason: pi.LastPaymentError.Msg}
		}
		return &Confirmation{Status: ConfirmationPending}
	default:
		return &Confirmation{Status: ConfirmationPending}
	}
}

func (s *StripeGateway) apiError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return &models.GatewayError{Gateway: s.Name(), Reason: stripeErr.Msg}
	}
	log.Printf("stripe: failed to %s: %v", op, err)
	return &models.GatewayError{Gateway: s.Name()}
}

// StripeWebhookEvent is the part of a Stripe event the checkout acts on
type StripeWebhookEvent struct {
	ID     string
	Type   string
	Intent stripe.PaymentIntent
}

const stripeSignatureTolerance = 5 * time.Minute

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
// Events for objects other than payment intents carry an empty Intent.
func (s *StripeGateway) ParseWebhook(payload []byte, header string) (*StripeWebhookEvent, error) {
	if s.config.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is not configured", models.ErrUnauthorized)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, s.config.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                stripeSignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: invalid stripe webhook body", models.ErrInvalidInput)
	}

	parsed := &StripeWebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil && strings.HasPrefix(parsed.Type, "payment_intent.") {
		if err := json.Unmarshal(event.Data.Raw, &parsed.Intent); err != nil {
			return nil, fmt.Errorf("%w: invalid payment intent in stripe webhook", models.ErrInvalidInput)
		}
	}
	return parsed, nil
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// SignStripePayload builds a Stripe-Signature header value for payload
func SignStripePayload(secret string, payload []byte, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}
