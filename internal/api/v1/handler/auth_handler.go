package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/service"
)

const forgotPasswordMessage = "If the email exists, a password reset link has been sent"

type AuthHandler struct {
	authService service.AuthService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewAuthHandler(authService service.AuthService, v *validator.Validate, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    v,
		logger:      logger.With().Str("handler", "auth").Logger(),
	}
}

// RegisterRoutes mounts the /auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Post("/logout", h.Logout)
			r.Post("/resend-verification", h.ResendVerification)
			r.Get("/me", h.Me)
		})
	})
}

func authResponse(res *service.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		User: res.User,
		Tokens: dto.TokenPair{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
		},
	}
}

// Register godoc
// @Summary Register a new account
// @Description Creates an account on the free tier and emails a verification link.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.RegisterRequest true "Registration request"
// @Success 201 {object} response.Envelope{data=dto.AuthResponse}
// @Failure 400 {object} response.Envelope "Validation failed"
// @Failure 409 {object} response.Envelope "User with this email already exists"
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusCreated, "User registered successfully. Please check your email for verification.", authResponse(res))
}

// Login godoc
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope{data=dto.AuthResponse}
// @Failure 401 {object} response.Envelope "Invalid email or password"
// @Failure 429 {object} response.Envelope "Too many attempts"
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Login successful", authResponse(res))
}

// Refresh godoc
// @Summary Rotate the token pair
// @Description Exchanges the stored refresh token for a new access and refresh token.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.RefreshRequest true "Refresh token"
// @Success 200 {object} response.Envelope{data=map[string]dto.TokenPair}
// @Failure 401 {object} response.Envelope "Invalid or expired refresh token"
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		response.Fail(w, http.StatusUnauthorized, "Refresh token required")
		return
	}
	tokens, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRefreshToken), errors.Is(err, service.ErrRefreshTokenExpired):
		writeError(w, h.logger, err)
		return
	default:
		h.logger.Error().Err(err).Msg("Token refresh failed")
		response.Fail(w, http.StatusUnauthorized, "Token refresh failed")
		return
	}
	response.OK(w, http.StatusOK, "", map[string]dto.TokenPair{
		"tokens": {AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken},
	})
}

// Logout godoc
// @Summary Log out
// @Description Revokes the stored refresh token.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	if err := h.authService.Logout(r.Context(), u.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Logout successful", nil)
}

// VerifyEmail godoc
// @Summary Confirm an email address
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.TokenRequest true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Invalid or expired verification token"
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if err := h.authService.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Email verified successfully", nil)
}

// ResendVerification godoc
// @Summary Send a new verification email
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Email is already verified"
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	if err := h.authService.ResendVerification(r.Context(), u); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Verification email sent", nil)
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Description Answers identically whether or not the email is registered.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.ForgotPasswordRequest true "Account email"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope "Failed to send password reset email"
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	err := h.authService.ForgotPassword(r.Context(), req.Email)
	switch {
	case err == nil:
		response.OK(w, http.StatusOK, forgotPasswordMessage, nil)
	case errors.Is(err, service.ErrTooManyAttempts):
		writeError(w, h.logger, err)
	default:
		h.logger.Error().Err(err).Msg("Failed to send password reset email")
		response.Fail(w, http.StatusInternalServerError, "Failed to send password reset email")
	}
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.ResetPasswordRequest true "Reset token and new password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Invalid or expired reset token"
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Password reset successfully", nil)
}

// Me godoc
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=dto.UserResponse}
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	response.OK(w, http.StatusOK, "", dto.UserResponse{User: u})
}
