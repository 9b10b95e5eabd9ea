package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// PeriodHandler handles period tracker HTTP requests
type PeriodHandler struct {
	periodService *services.PeriodService
}

// NewPeriodHandler creates a new period handler
func NewPeriodHandler(periodService *services.PeriodService) *PeriodHandler {
	return &PeriodHandler{periodService: periodService}
}

// List handles GET /api/period-tracker?start&end
func (h *PeriodHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	entries, err := h.periodService.List(r.Context(), userID,
		r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Patch handles PATCH /api/period-tracker/{date}. A nil entry in the
// response means the date ended up empty and was removed.
func (h *PeriodHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	date := chi.URLParam(r, "date")
	var req services.PeriodInput
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.periodService.Patch(r.Context(), userID, date, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entry": entry})
}
