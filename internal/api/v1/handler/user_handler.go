package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/repository"
	"morphflux/internal/service"
)

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewUserHandler(userService service.UserService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		validate:    v,
		logger:      logger.With().Str("handler", "users").Logger(),
	}
}

// RegisterRoutes mounts the /users routes, all behind authMw.
func (h *UserHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Route("/users", func(r chi.Router) {
		r.Use(authMw)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/change-password", h.ChangePassword)
		r.Get("/usage", h.Usage)
		r.Get("/activity", h.Activity)
		r.Get("/subscription", h.Subscription)
		r.Post("/export-data", h.ExportData)
		r.Delete("/account", h.DeleteAccount)
	})
}

// GetProfile godoc
// @Summary Get the caller's profile
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=dto.UserResponse}
// @Router /users/profile [get]
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	response.OK(w, http.StatusOK, "", dto.UserResponse{User: u})
}

// UpdateProfile godoc
// @Summary Update name or avatar
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.UpdateProfileRequest true "Fields to change"
// @Success 200 {object} response.Envelope{data=dto.UserResponse}
// @Failure 400 {object} response.Envelope "Validation failed"
// @Router /users/profile [put]
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProfileRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	updated, err := h.userService.UpdateProfile(r.Context(), u.ID, repository.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Profile updated successfully", dto.UserResponse{User: updated})
}

// ChangePassword godoc
// @Summary Change password
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.ChangePasswordRequest true "Current and new password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Current password is incorrect"
// @Router /users/change-password [post]
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	err := h.userService.ChangePassword(r.Context(), u, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		response.OK(w, http.StatusOK, "Password changed successfully", nil)
	case errors.Is(err, service.ErrIncorrectPassword):
		response.Fail(w, http.StatusBadRequest, "Current password is incorrect")
	default:
		writeError(w, h.logger, err)
	}
}

// Usage godoc
// @Summary Monthly usage statistics
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=map[string]service.UsageSummary}
// @Router /users/usage [get]
func (h *UserHandler) Usage(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	summary, err := h.userService.Usage(r.Context(), u)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "", map[string]any{"usage": summary})
}

// Activity godoc
// @Summary Transformation history
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} response.Envelope
// @Router /users/activity [get]
func (h *UserHandler) Activity(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	page, limit := pageParams(r)
	items, total, err := h.userService.Activity(r.Context(), u.ID, page, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "", map[string]any{
		"activity":   items,
		"pagination": response.NewPagination(page, limit, total),
	})
}

// Subscription godoc
// @Summary Subscription details
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=map[string]service.SubscriptionSummary}
// @Router /users/subscription [get]
func (h *UserHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	response.OK(w, http.StatusOK, "", map[string]any{"subscription": h.userService.Subscription(u)})
}

// ExportData godoc
// @Summary Export the caller's data
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=map[string]dto.DataExport}
// @Router /users/export-data [post]
func (h *UserHandler) ExportData(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	export, err := h.userService.ExportData(r.Context(), u)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Data export generated successfully", map[string]dto.DataExport{
		"export": {
			ExportDate: export.ExportDate,
			UserData: dto.UserData{
				Profile:         export.Profile,
				Images:          export.Images,
				Transformations: export.Transformations,
			},
		},
	})
}

// DeleteAccount godoc
// @Summary Delete the caller's account
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.DeleteAccountRequest true "Password confirmation"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Password is incorrect"
// @Router /users/account [delete]
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req dto.DeleteAccountRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	if err := h.userService.DeleteAccount(r.Context(), u, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Account deleted successfully", nil)
}
