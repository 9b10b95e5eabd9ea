package handlers

import (
	"net/http"

	"gift-journal-backend/internal/middleware"
	"gift-journal-backend/internal/services"
)

// AuthHandler handles authentication and profile HTTP requests
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type requestCodeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RequestSignupCode handles POST /api/auth/register/request-code
func (h *AuthHandler) RequestSignupCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.authService.RequestSignupCode(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type verifyCodeRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// VerifySignupCode handles POST /api/auth/register/verify
func (h *AuthHandler) VerifySignupCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.authService.VerifySignupCode(r.Context(), req.Email, req.Code, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

// RequestResetCode handles POST /api/auth/password/request-reset-code
func (h *AuthHandler) RequestResetCode(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.authService.RequestResetCode(r.Context(), req.Email)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword handles POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.authService.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, partner, err := h.authService.Me(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user, "partner": partner})
}

type updateProfileRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
	Gender *string `json:"gender"`
}

// UpdateProfile handles PATCH /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.authService.UpdateProfile(r.Context(), userID, req.Name, req.Avatar, req.Gender)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}
