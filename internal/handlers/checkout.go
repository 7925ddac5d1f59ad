package handlers

import (
	"net/http"

	"festival-platform/internal/models"
	"festival-platform/internal/services"
)

// CheckoutHandler handles the checkout steps of a basket
type CheckoutHandler struct {
	cartService *services.CartService
	checkout    *services.CheckoutOrchestrator
	gateways    *services.GatewayRegistry
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(cartService *services.CartService, checkout *services.CheckoutOrchestrator, gateways *services.GatewayRegistry) *CheckoutHandler {
	return &CheckoutHandler{
		cartService: cartService,
		checkout:    checkout,
		gateways:    gateways,
	}
}

// ListGateways returns the payment methods the customer can pick from
func (h *CheckoutHandler) ListGateways(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"gateways": h.gateways.Names()})
}

// SetAddress stores the shipping address and moves the checkout forward
func (h *CheckoutHandler) SetAddress(w http.ResponseWriter, r *http.Request) {
	var address models.ShippingAddress
	if err := decodeJSON(r, &address); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.checkout.SetAddress(r.Context(), session, address); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Checkout)
}

type createIntentRequest struct {
	Gateway string `json:"gateway"`
}

// CreateIntent opens a payment for the basket's authoritative total
func (h *CheckoutHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	result, err := h.checkout.CreateIntent(r.Context(), session, req.Gateway)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Confirm is called when the browser returns from the gateway. Pending
// payments answer 202 and are finished by a webhook or the reconciler.
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.checkout.ConfirmSession(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == services.OutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
