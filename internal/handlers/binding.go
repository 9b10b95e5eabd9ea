package handlers

import (
	"html/template"
	"net/http"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// BindingHandler handles partner binding HTTP requests
type BindingHandler struct {
	bindingService *services.BindingService
}

// NewBindingHandler creates a new binding handler
func NewBindingHandler(bindingService *services.BindingService) *BindingHandler {
	return &BindingHandler{bindingService: bindingService}
}

type connectRequest struct {
	InviteCode string `json:"inviteCode"`
}

// Connect handles POST /api/settings/connect
func (h *BindingHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.bindingService.Connect(r.Context(), userID, req.InviteCode)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

// Disconnect handles POST /api/settings/disconnect
func (h *BindingHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	result, err := h.bindingService.Disconnect(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Pending handles GET /api/bindings/pending
func (h *BindingHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	items, err := h.bindingService.PendingForTarget(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": items})
}

type respondRequest struct {
	Action string `json:"action"`
}

// Respond handles POST /api/bindings/{id}/respond
func (h *BindingHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "id")
	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.bindingService.Respond(r.Context(), requestID, userID, req.Action)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Partner request</title>
<style>
body { font-family: -apple-system, sans-serif; background: #fdf2f4; display: flex;
       align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 12px; padding: 2.5rem; max-width: 28rem;
        text-align: center; box-shadow: 0 4px 24px rgba(0,0,0,.08); }
h1 { font-size: 1.3rem; color: #333; }
p { color: #666; }
</style>
</head>
<body>
<div class="card">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</div>
</body>
</html>
`))

type confirmPageData struct {
	Title   string
	Message string
}

// Confirm handles GET /api/bindings/confirm?token= from the email link and
// renders an HTML landing page.
func (h *BindingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	_, err := h.bindingService.ConfirmByToken(r.Context(), token)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := confirmPageData{
		Title:   "You're connected!",
		Message: "The partner request has been accepted. You can close this page and return to the app.",
	}
	status := http.StatusOK
	if err != nil {
		status = httperr.StatusOf(err)
		data = confirmPageData{Title: "Request could not be accepted", Message: err.Error()}
		if httperr.From(err) == nil {
			data.Message = "Something went wrong. Please try again from the app."
		}
	}
	w.WriteHeader(status)
	_ = confirmPage.Execute(w, data)
}
