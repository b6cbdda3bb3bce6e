package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitmart/api/internal/platform/httpx"
	"github.com/fitmart/api/internal/services"
)

const maxAuthBodySize = 16 * 1024

// AuthHandlers exposes registration, OTP verification, and login endpoints.
type AuthHandlers struct {
	users services.UserService
}

// NewAuthHandlers constructs handlers backed by the user service.
func NewAuthHandlers(users services.UserService) *AuthHandlers {
	return &AuthHandlers{users: users}
}

// Routes wires the /auth endpoints onto the provided router.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/verify-otp", h.verifyOTP)
	r.Post("/resend-otp", h.resendOTP)
	r.Post("/login", h.login)
}

type registerRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_service_unavailable", "auth service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req registerRequest
	if err := decodeJSONBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	user, err := h.users.Register(ctx, services.RegisterCommand{
		UserName: req.UserName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"user":    buildUserPayload(user),
		"message": "verification code sent",
	})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_service_unavailable", "auth service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req verifyOTPRequest
	if err := decodeJSONBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.users.VerifyOTP(ctx, services.VerifyOTPCommand{Email: req.Email, Code: req.Code})
	if err != nil {
		h.writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

type resendOTPRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandlers) resendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_service_unavailable", "auth service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req resendOTPRequest
	if err := decodeJSONBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	if err := h.users.RequestOTP(ctx, req.Email); err != nil {
		h.writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"message": "verification code sent"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_service_unavailable", "auth service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req loginRequest
	if err := decodeJSONBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.users.Login(ctx, services.LoginCommand{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

func buildSessionPayload(session services.AuthSession) map[string]any {
	return map[string]any{
		"user":       buildUserPayload(session.User),
		"token":      session.Token,
		"expires_at": formatTime(session.ExpiresAt),
	}
}

func (h *AuthHandlers) writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "email already registered", http.StatusConflict))
	case errors.Is(err, services.ErrUserOTPInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("otp_invalid", "invalid or expired verification code", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotVerified):
		httpx.WriteError(ctx, w, httpx.NewError("email_not_verified", "email not verified", http.StatusForbidden))
	case errors.Is(err, services.ErrUserInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid email or password", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("auth_error", "authentication request failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
