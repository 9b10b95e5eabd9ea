package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	notificationService *services.NotificationService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	notifications, err := h.notificationService.List(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

type createNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Create handles POST /api/notifications
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.NotificationInteraction
	}
	notification, err := h.notificationService.Create(r.Context(), userID, req.Title, req.Message, req.Type)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"notification": notification})
}

// MarkRead handles PATCH /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	notification, err := h.notificationService.MarkRead(r.Context(), id, userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notification": notification})
}

// Clear handles DELETE /api/notifications
func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.notificationService.Clear(r.Context(), userID); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
