package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// EventHandler handles anniversary event HTTP requests
type EventHandler struct {
	eventService *services.EventService
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService *services.EventService) *EventHandler {
	return &EventHandler{eventService: eventService}
}

// List handles GET /api/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	events, err := h.eventService.List(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Create handles POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req services.EventInput
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.eventService.Create(r.Context(), userID, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type updateEventRequest struct {
	Title    *string `json:"title"`
	Subtitle *string `json:"subtitle"`
	Date     *string `json:"date"`
	Type     *string `json:"type"`
	Image    *string `json:"image"`
}

// Update handles PATCH /api/events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	var req updateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := h.eventService.Update(r.Context(), id, userID, req.Title, req.Subtitle, req.Date, req.Type, req.Image)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": event})
}

// Delete handles DELETE /api/events/{id}
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.eventService.Delete(r.Context(), id, userID); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
