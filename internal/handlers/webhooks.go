package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"festival-platform/internal/models"
	"festival-platform/internal/services"
)

const maxWebhookBytes = 64 << 10

// WebhookHandler confirms checkouts from gateway notifications so a customer
// who closes the browser after paying still gets their order
type WebhookHandler struct {
	checkout *services.CheckoutOrchestrator
	stripe   *services.StripeGateway
	paypal   *services.PayPalGateway
}

// NewWebhookHandler creates a new webhook handler. Either gateway may be nil
// when it is not configured.
func NewWebhookHandler(checkout *services.CheckoutOrchestrator, stripe *services.StripeGateway, paypal *services.PayPalGateway) *WebhookHandler {
	return &WebhookHandler{
		checkout: checkout,
		stripe:   stripe,
		paypal:   paypal,
	}
}

var stripeConfirmEvents = map[string]bool{
	"payment_intent.succeeded":      true,
	"payment_intent.payment_failed": true,
	"payment_intent.canceled":       true,
}

// Stripe handles POST /webhooks/stripe
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	if h.stripe == nil {
		writeError(w, http.StatusNotFound, "stripe is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("stripe: rejected webhook: %v", err)
		writeServiceError(w, r, err)
		return
	}

	if !stripeConfirmEvents[event.Type] {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.confirm(w, r, h.stripe.Name(), event.Intent.ID, event.ID)
}

var paypalConfirmEvents = map[string]bool{
	"CHECKOUT.ORDER.APPROVED":   true,
	"CHECKOUT.ORDER.COMPLETED":  true,
	"PAYMENT.CAPTURE.COMPLETED": true,
	"PAYMENT.CAPTURE.DENIED":    true,
}

// PayPal handles POST /webhooks/paypal
func (h *WebhookHandler) PayPal(w http.ResponseWriter, r *http.Request) {
	if h.paypal == nil {
		writeError(w, http.StatusNotFound, "paypal is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := h.paypal.VerifyWebhook(r.Context(), r.Header, body)
	if err != nil {
		log.Printf("paypal: rejected webhook: %v", err)
		writeServiceError(w, r, err)
		return
	}

	if !paypalConfirmEvents[event.EventType] || event.OrderID() == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.confirm(w, r, h.paypal.Name(), event.OrderID(), event.ID)
}

// confirm acknowledges every outcome the gateway cannot fix by retrying.
// Storage errors answer 500 so the delivery is retried.
func (h *WebhookHandler) confirm(w http.ResponseWriter, r *http.Request, gateway, intentID, eventID string) {
	result, err := h.checkout.Confirm(r.Context(), gateway, intentID)
	switch {
	case err == nil:
		log.Printf("%s: webhook %s for %s: %s", gateway, eventID, intentID, result.Outcome)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrNotFound):
		log.Printf("%s: webhook %s for unknown intent %s ignored", gateway, eventID, intentID)
		w.WriteHeader(http.StatusNoContent)
	case errorStatus(err) != http.StatusInternalServerError:
		log.Printf("%s: webhook %s for %s: %v", gateway, eventID, intentID, err)
		w.WriteHeader(http.StatusNoContent)
	default:
		log.Printf("%s: webhook %s for %s failed: %v", gateway, eventID, intentID, err)
		writeError(w, http.StatusInternalServerError, "temporary failure")
	}
}
