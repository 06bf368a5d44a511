package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/model"
	"morphflux/internal/service"
)

type TransformationHandler struct {
	transformationService service.TransformationService
	validate              *validator.Validate
	logger                zerolog.Logger
}

func NewTransformationHandler(ts service.TransformationService, v *validator.Validate, logger zerolog.Logger) *TransformationHandler {
	return &TransformationHandler{
		transformationService: ts,
		validate:              v,
		logger:                logger.With().Str("handler", "transformations").Logger(),
	}
}

// RegisterRoutes mounts the /transformations routes. Creating one needs a
// verified email and remaining quota; retrying also needs the studio tier.
func (h *TransformationHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Route("/transformations", func(r chi.Router) {
		r.Use(authMw)
		r.With(middleware.RequireVerifiedEmail, middleware.RequireQuota).Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/cancel", h.Cancel)
		r.With(middleware.RequireVerifiedEmail, middleware.RequireTier(model.TierStudio), middleware.RequireQuota).
			Post("/{id}/retry", h.Retry)
	})
}

// Create godoc
// @Summary Request a transformation
// @Description Records a pending transformation of an owned image and dispatches it to the worker.
// @Tags transformations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CreateTransformationRequest true "Input image, type and parameters"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope "Invalid transformation type"
// @Failure 403 {object} response.Envelope "Email verification required or access denied"
// @Failure 429 {object} response.Envelope "Monthly usage limit reached"
// @Router /transformations [post]
func (h *TransformationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTransformationRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	t, err := h.transformationService.Create(r.Context(), u, service.CreateTransformationInput{
		InputImageID: req.InputImageID,
		Type:         model.TransformationType(req.TransformationType),
		Parameters:   req.Parameters,
		Client:       clientInfo(r),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusCreated, "Transformation created successfully", map[string]any{"transformation": t})
}

// List godoc
// @Summary List the caller's transformations
// @Tags transformations
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} response.Envelope
// @Router /transformations [get]
func (h *TransformationHandler) List(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	page, limit := pageParams(r)
	items, total, err := h.transformationService.List(r.Context(), u.ID, page, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "", map[string]any{
		"transformations": items,
		"pagination":      response.NewPagination(page, limit, total),
	})
}

// Stats godoc
// @Summary Transformation counts by status
// @Tags transformations
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=map[string]model.TransformationStats}
// @Router /transformations/stats [get]
func (h *TransformationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	stats, err := h.transformationService.Stats(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "", map[string]any{"stats": stats})
}

// Get godoc
// @Summary Get one transformation
// @Tags transformations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transformation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope "Transformation not found"
// @Router /transformations/{id} [get]
func (h *TransformationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := transformationID(w, r)
	if !ok {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	t, err := h.transformationService.Get(r.Context(), u.ID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "", map[string]any{"transformation": t})
}

// Cancel godoc
// @Summary Cancel a transformation
// @Tags transformations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transformation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope "Transformation not found"
// @Failure 409 {object} response.Envelope "Invalid status transition"
// @Router /transformations/{id}/cancel [post]
func (h *TransformationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := transformationID(w, r)
	if !ok {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	t, err := h.transformationService.Cancel(r.Context(), u.ID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusOK, "Transformation cancelled", map[string]any{"transformation": t})
}

// Retry godoc
// @Summary Retry a failed or cancelled transformation
// @Description Records a new pending transformation with the same input, type and parameters. Studio tier and above.
// @Tags transformations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transformation ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Subscription tier too low or email not verified"
// @Failure 404 {object} response.Envelope "Transformation not found"
// @Failure 409 {object} response.Envelope "Transformation is not failed or cancelled"
// @Failure 429 {object} response.Envelope "Monthly usage limit reached"
// @Router /transformations/{id}/retry [post]
func (h *TransformationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := transformationID(w, r)
	if !ok {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	t, err := h.transformationService.Retry(r.Context(), u, id, clientInfo(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.OK(w, http.StatusCreated, "Transformation retried", map[string]any{"transformation": t})
}
