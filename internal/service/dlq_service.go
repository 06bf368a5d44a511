package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/model"
	"morphflux/internal/repository"
)

const deadLetterFailureMessage = "job could not be delivered to the image worker"

type DLQService interface {
	// ProcessAndSave stores a dead-lettered job and fails its transformation.
	ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error
}

type dlqService struct {
	repo            repository.DLQRepository
	transformations TransformationService
	logger          zerolog.Logger
}

func NewDLQService(repo repository.DLQRepository, transformations TransformationService, logger zerolog.Logger) DLQService {
	return &dlqService{
		repo:            repo,
		transformations: transformations,
		logger:          logger.With().Str("service", "DLQService").Logger(),
	}
}

func (s *dlqService) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error {
	payload := req.Message.DecodeData()

	var attributesJSON *string
	if len(req.Message.Attributes) > 0 {
		if attrBytes, err := json.Marshal(req.Message.Attributes); err == nil {
			attrStr := string(attrBytes)
			attributesJSON = &attrStr
		}
	}

	var transformationID *string
	var job dto.TransformationJob
	if err := json.Unmarshal(payload, &job); err == nil && job.TransformationID != "" {
		transformationID = &job.TransformationID
	} else if id := req.Message.Attributes["transformation_id"]; id != "" {
		transformationID = &id
	}

	if err := s.repo.Create(ctx, &model.DeadLetterMessage{
		SubscriptionName: req.Subscription,
		MessageID:        req.Message.MessageID,
		TransformationID: transformationID,
		Payload:          string(payload),
		Attributes:       attributesJSON,
		Status:           "unprocessed",
	}); err != nil {
		return err
	}

	if transformationID == nil {
		s.logger.Warn().Str("message_id", req.Message.MessageID).Msg("Dead letter without transformation id")
		return nil
	}
	reason := deadLetterFailureMessage
	_, err := s.transformations.ApplyStatusUpdate(ctx, StatusUpdate{
		TransformationID: *transformationID,
		Status:           model.StatusFailed,
		ErrorMessage:     &reason,
	})
	switch {
	case err == nil:
		s.logger.Info().Str("transformation_id", *transformationID).Msg("Transformation failed after dead-lettering")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTransformationNotFound):
		s.logger.Info().Err(err).Str("transformation_id", *transformationID).Msg("Dead letter left transformation unchanged")
	default:
		return err
	}
	return nil
}
