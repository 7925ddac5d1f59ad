package handlers

import (
	"net/http"

	"festival-platform/internal/middleware"
)

// DevSessionHandler lets local tooling act as a user without the login
// system. It is only mounted outside production.
type DevSessionHandler struct {
	sessions *middleware.SessionMiddleware
}

// NewDevSessionHandler creates a new development session handler
func NewDevSessionHandler(sessions *middleware.SessionMiddleware) *DevSessionHandler {
	return &DevSessionHandler{sessions: sessions}
}

type devLoginRequest struct {
	UserID  int    `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Login stores the given identity in the session cookie
func (h *DevSessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req devLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	identity := middleware.Identity{UserID: req.UserID, Email: req.Email, IsAdmin: req.IsAdmin}
	if err := h.sessions.SetIdentity(w, r, identity); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": identity.UserID, "email": identity.Email, "is_admin": identity.IsAdmin})
}

// Logout drops the identity but keeps the cart token
func (h *DevSessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SetIdentity(w, r, middleware.Identity{}); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
