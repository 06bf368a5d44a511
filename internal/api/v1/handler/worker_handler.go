package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/service"
)

// WorkerHandler receives Pub/Sub push deliveries from the image worker.
// Returning 2xx acknowledges a message; anything else makes Pub/Sub retry.
type WorkerHandler struct {
	transformationService service.TransformationService
	dlqService            service.DLQService
	logger                zerolog.Logger
}

func NewWorkerHandler(ts service.TransformationService, dlq service.DLQService, logger zerolog.Logger) *WorkerHandler {
	return &WorkerHandler{
		transformationService: ts,
		dlqService:            dlq,
		logger:                logger.With().Str("handler", "worker").Logger(),
	}
}

func (h *WorkerHandler) RegisterRoutes(r chi.Router, pushAuth func(http.Handler) http.Handler) {
	r.Route("/internal/transformations", func(r chi.Router) {
		r.Use(pushAuth)
		r.Post("/status", h.Status)
		r.Post("/dead-letter", h.DeadLetter)
	})
}

func decodePush(w http.ResponseWriter, r *http.Request) (*dto.PubSubPushRequest, bool) {
	var req dto.PubSubPushRequest
	if err := decodeBody(r, &req); err != nil || req.Message.MessageID == "" {
		response.Fail(w, http.StatusBadRequest, "Invalid Pub/Sub message format")
		return nil, false
	}
	return &req, true
}

// Status godoc
// @Summary Apply a worker status update
// @Description Pub/Sub push endpoint. Stale or unknown updates are acknowledged and dropped.
// @Tags internal
// @Accept json
// @Param body body dto.PubSubPushRequest true "Pub/Sub push envelope"
// @Success 204
// @Failure 500 {object} response.Envelope "Retry requested"
// @Router /internal/transformations/status [post]
func (h *WorkerHandler) Status(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePush(w, r)
	if !ok {
		return
	}
	log := h.logger.With().Str("message_id", req.Message.MessageID).Logger()

	t, err := h.transformationService.ProcessStatusMessage(r.Context(), req)
	switch {
	case err == nil:
		log.Info().Str("transformation_id", t.ID).Str("status", string(t.Status)).Msg("Applied worker status update")
	case errors.Is(err, service.ErrMalformedMessage):
		log.Error().Err(err).Msg("Dropping undecodable worker status update")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrTransformationNotFound),
		errors.Is(err, service.ErrImageNotFound):
		log.Warn().Err(err).Msg("Dropping worker status update")
	default:
		log.Error().Err(err).Msg("Failed to apply worker status update")
		response.InternalError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeadLetter godoc
// @Summary Record a dead-lettered transformation job
// @Description Stores the message and fails its transformation. Always acknowledged.
// @Tags internal
// @Accept json
// @Param body body dto.PubSubPushRequest true "Pub/Sub push envelope"
// @Success 204
// @Router /internal/transformations/dead-letter [post]
func (h *WorkerHandler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePush(w, r)
	if !ok {
		return
	}
	h.logger.Info().
		Str("message_id", req.Message.MessageID).
		Str("subscription", req.Subscription).
		Msg("Processing dead-letter queue message")

	if err := h.dlqService.ProcessAndSave(r.Context(), req); err != nil {
		// The message is already dead-lettered; a retry would not help.
		h.logger.Error().Err(err).Str("message_id", req.Message.MessageID).Msg("Failed to save DLQ message")
	}
	w.WriteHeader(http.StatusNoContent)
}
