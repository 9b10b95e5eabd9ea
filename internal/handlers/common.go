package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/store"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// handleError maps a service error onto the HTTP taxonomy: classified
// errors carry their own status, transport failures from the store become
// 503, everything else is a logged 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	if classified := httperr.From(err); classified != nil {
		respondError(w, classified.Message, classified.Status)
		return
	}
	if store.IsTransient(err) {
		respondError(w, "service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	respondError(w, "internal server error", http.StatusInternalServerError)
}

// decodeJSON parses the request body, rejecting malformed payloads. Bodies
// truncated by the server-wide size cap surface as 413.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		respondError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
