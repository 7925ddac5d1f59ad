package handlers

import (
	"net/http"

	"festival-platform/internal/middleware"
	"festival-platform/internal/models"
	"festival-platform/internal/services"

	"github.com/go-chi/chi/v5"
)

// OrderHandler serves a customer's committed merchandise orders
type OrderHandler struct {
	orderService *services.OrderService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// ListOrders returns the caller's orders, newest first
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	limit, offset := pagination(r, 20)

	orders, total, err := h.orderService.GetUserOrders(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "total": total})
}

// GetOrder returns one order if the caller owns it or is an admin
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(chi.URLParam(r, "id"), "order id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	identity := middleware.IdentityFromContext(r.Context())

	order, err := h.orderService.GetOrderByID(r.Context(), id, identity.UserID, identity.IsAdmin)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
