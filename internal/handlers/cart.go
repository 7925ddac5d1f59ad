package handlers

import (
	"fmt"
	"net/http"
	"time"

	"festival-platform/internal/middleware"
	"festival-platform/internal/models"
	"festival-platform/internal/services"

	"github.com/go-chi/chi/v5"
)

const dateLayout = "2006-01-02"

// CartHandler handles basket requests
type CartHandler struct {
	cartService *services.CartService
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cartService *services.CartService) *CartHandler {
	return &CartHandler{cartService: cartService}
}

// CartResponse is the basket as shown to the customer
type CartResponse struct {
	Items    map[string]models.CartItem `json:"items"`
	Quote    *services.Quote            `json:"quote"`
	Checkout models.CheckoutInfo        `json:"checkout"`
}

// loadSession resolves the cart session for the request's cookie and identity
func loadSession(r *http.Request, cart *services.CartService) (*models.CartSession, error) {
	token := middleware.CartTokenFromContext(r.Context())
	if token == "" {
		return nil, fmt.Errorf("%w: missing cart session", models.ErrUnauthorized)
	}
	identity := middleware.IdentityFromContext(r.Context())
	return cart.Session(r.Context(), token, identity.UserID, identity.Email)
}

func (h *CartHandler) respondCart(w http.ResponseWriter, r *http.Request, status int, session *models.CartSession) {
	quote, err := h.cartService.View(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make(map[string]models.CartItem, session.Cart.Len())
	for _, key := range session.Cart.Keys() {
		item, _ := session.Cart.Get(key)
		items[key.String()] = item
	}

	writeJSON(w, status, CartResponse{Items: items, Quote: quote, Checkout: session.Checkout})
}

// ViewCart returns the basket with a fresh authoritative quote
func (h *CartHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, session)
}

type addMerchandiseRequest struct {
	ProductID      int   `json:"product_id"`
	OptionValueIDs []int `json:"option_value_ids"`
	Quantity       int   `json:"quantity"`
}

// AddMerchandise adds a product variant to the basket
func (h *CartHandler) AddMerchandise(w http.ResponseWriter, r *http.Request) {
	var req addMerchandiseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.cartService.AddMerchandise(r.Context(), session, req.ProductID, req.OptionValueIDs, req.Quantity); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated, session)
}

type addBookingRequest struct {
	CampsiteID int    `json:"campsite_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	GuestCount int    `json:"guest_count"`
}

// AddCampsiteBooking holds a campsite for the requested nights
func (h *CartHandler) AddCampsiteBooking(w http.ResponseWriter, r *http.Request) {
	var req addBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	checkIn, err := time.Parse(dateLayout, req.CheckIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "check_in must be YYYY-MM-DD")
		return
	}
	checkOut, err := time.Parse(dateLayout, req.CheckOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "check_out must be YYYY-MM-DD")
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.cartService.AddCampsiteBooking(r.Context(), session, req.CampsiteID, checkIn, checkOut, req.GuestCount); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated, session)
}

type addRegistrationRequest struct {
	EventID   int               `json:"event_id"`
	Attendees []models.Attendee `json:"attendees"`
}

// AddEventRegistration starts a registration draft with its attendees
func (h *CartHandler) AddEventRegistration(w http.ResponseWriter, r *http.Request) {
	var req addRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	draft, err := h.cartService.AddEventRegistrationDraft(r.Context(), session, req.EventID, req.Attendees)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

type selectSubEventsRequest struct {
	Selections map[int][]int `json:"selections"`
}

// SelectSubEvents completes a registration draft
func (h *CartHandler) SelectSubEvents(w http.ResponseWriter, r *http.Request) {
	var req selectSubEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	draft, err := h.cartService.SelectSubEvents(r.Context(), session, chi.URLParam(r, "draftID"), req.Selections)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateItem changes the quantity of a merchandise line
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseCartKey(chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req updateQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.cartService.UpdateQuantity(r.Context(), session, key, req.Quantity); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, session)
}

// RemoveItem deletes one line; a booking line also releases its hold
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseCartKey(chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.cartService.Remove(r.Context(), session, key); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, session)
}

// ClearCart empties the basket. With ?release=true booking holds are released
// immediately instead of waiting for the sweeper.
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	session, err := loadSession(r, h.cartService)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if r.URL.Query().Get("release") == "true" {
		err = h.cartService.Abandon(r.Context(), session)
	} else {
		err = h.cartService.Clear(r.Context(), session)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
