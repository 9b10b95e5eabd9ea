package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gift-journal-backend/internal/repository"
	"gift-journal-backend/internal/services"
	"gift-journal-backend/internal/store"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AuthMiddleware authenticates Bearer credentials. Every failure mode
// (absent, malformed, expired, version-mismatched token, vanished user)
// collapses to the same 401; only a store outage during the version re-read
// is allowed to differ, as 503.
func AuthMiddleware(authService *services.AuthService, userRepo *repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r.Context(), bearerToken(r), authService, userRepo)
			if err != nil {
				if store.IsTransient(err) {
					respondError(w, "service temporarily unavailable", http.StatusServiceUnavailable)
					return
				}
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// authenticate verifies the token signature and claims, then re-reads the
// user's live token version so a password reset kills outstanding sessions.
func authenticate(ctx context.Context, token string, authService *services.AuthService, userRepo *repository.UserRepository) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token required")
	}
	userID, tokenVersion, err := authService.ParseToken(token)
	if err != nil {
		return "", err
	}
	currentVersion, exists, err := userRepo.TokenVersion(ctx, userID)
	if err != nil {
		return "", err
	}
	if !exists || currentVersion != tokenVersion {
		return "", fmt.Errorf("credential revoked")
	}
	return userID, nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// ValidateWebSocketToken authenticates the token passed in the WebSocket
// query string, with the same version re-read as the HTTP middleware.
func ValidateWebSocketToken(ctx context.Context, token string, authService *services.AuthService, userRepo *repository.UserRepository) (string, error) {
	return authenticate(ctx, token, authService, userRepo)
}
