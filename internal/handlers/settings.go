package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"
)

// SettingsHandler handles settings and app-state HTTP requests
type SettingsHandler struct {
	settingsService *services.SettingsService
	appState        *services.AppStateService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsService *services.SettingsService, appState *services.AppStateService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService, appState: appState}
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	settings, err := h.settingsService.Get(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

type updateSettingsRequest struct {
	TogetherDate string `json:"togetherDate"`
}

// Update handles PATCH /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.settingsService.UpdateTogetherDate(r.Context(), userID, req.TogetherDate)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// AppState handles GET /api/app/state
func (h *SettingsHandler) AppState(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	state, err := h.appState.Load(r.Context(), userID, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}
