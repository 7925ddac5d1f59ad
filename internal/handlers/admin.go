package handlers

import (
	"net/http"
	"time"

	"festival-platform/internal/models"
	"festival-platform/internal/services"

	"github.com/go-chi/chi/v5"
)

// AdminHandler serves back-office checkout tools
type AdminHandler struct {
	checkout       *services.CheckoutOrchestrator
	reconcileAfter time.Duration
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(checkout *services.CheckoutOrchestrator, reconcileAfter time.Duration) *AdminHandler {
	return &AdminHandler{checkout: checkout, reconcileAfter: reconcileAfter}
}

// ListReconciliationFlags returns captured payments whose commit failed
func (h *AdminHandler) ListReconciliationFlags(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	flags, err := h.checkout.OpenFlags(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if flags == nil {
		flags = []*models.ReconciliationFlag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags, "limit": limit, "offset": offset})
}

// ResolveReconciliationFlag marks a flag as handled (refunded or fulfilled by hand)
func (h *AdminHandler) ResolveReconciliationFlag(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(chi.URLParam(r, "id"), "flag id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.checkout.ResolveFlag(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type manualConfirmRequest struct {
	Reference string       `json:"reference"`
	Amount    models.Money `json:"amount"`
}

// ConfirmManualPayment records a bank transfer or cash payment against an attempt
func (h *AdminHandler) ConfirmManualPayment(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(chi.URLParam(r, "id"), "attempt id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req manualConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.checkout.ConfirmManual(r.Context(), id, req.Reference, req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReconcileNow runs one reconciliation pass over stale awaiting attempts
func (h *AdminHandler) ReconcileNow(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r, 100)
	summary, err := h.checkout.ReconcileAwaiting(r.Context(), h.reconcileAfter, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
