package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"
)

// FocusHandler handles focus statistics HTTP requests
type FocusHandler struct {
	focusService *services.FocusService
}

// NewFocusHandler creates a new focus handler
func NewFocusHandler(focusService *services.FocusService) *FocusHandler {
	return &FocusHandler{focusService: focusService}
}

// Get handles GET /api/focus/stats
func (h *FocusHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	stats, err := h.focusService.Get(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

type completeSessionRequest struct {
	FocusMinutes int `json:"focusMinutes"`
}

// CompleteSession handles PATCH /api/focus/stats/complete-session
func (h *FocusHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req completeSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stats, err := h.focusService.CompleteSession(r.Context(), userID, req.FocusMinutes)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
