package handlers

import (
	"net/http"
	"strconv"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// MemoryHandler handles memory HTTP requests
type MemoryHandler struct {
	memoryService *services.MemoryService
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(memoryService *services.MemoryService) *MemoryHandler {
	return &MemoryHandler{memoryService: memoryService}
}

func queryInt(r *http.Request, name string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return value
}

// List handles GET /api/memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	memories, pagination, err := h.memoryService.List(r.Context(), userID, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories, "pagination": pagination})
}

// Create handles POST /api/memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req services.MemoryInput
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.memoryService.Create(r.Context(), userID, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type batchRequest struct {
	Memories []*services.MemoryInput `json:"memories"`
}

// CreateBatch handles POST /api/memories/batch
func (h *MemoryHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.memoryService.CreateBatch(r.Context(), userID, req.Memories)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type updateMemoryRequest struct {
	Title    *string `json:"title"`
	Date     *string `json:"date"`
	Image    *string `json:"image"`
	Rotation *string `json:"rotation"`
}

// Update handles PATCH /api/memories/{id}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	var req updateMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	memory, err := h.memoryService.Update(r.Context(), id, userID, req.Title, req.Date, req.Image, req.Rotation)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memory": memory})
}

// Delete handles DELETE /api/memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.memoryService.Delete(r.Context(), id, userID); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
