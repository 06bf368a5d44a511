package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/model"
	"morphflux/internal/pubsub"
	"morphflux/internal/repository"
)

type CreateTransformationInput struct {
	InputImageID string
	Type         model.TransformationType
	Parameters   map[string]any
	Client       ClientInfo
}

// StatusUpdate is a status change reported by the image worker.
type StatusUpdate struct {
	TransformationID string
	Status           model.TransformationStatus
	OutputImageID    *string
	ResultMetadata   map[string]any
	ErrorMessage     *string
	ProcessingTimeMS *int
}

type TransformationService interface {
	// Create records a pending transformation, charges quota and dispatches
	// the job. A failed dispatch is logged and the record kept.
	Create(ctx context.Context, u *model.User, in CreateTransformationInput) (*model.Transformation, error)
	Get(ctx context.Context, userID, id string) (*model.Transformation, error)
	List(ctx context.Context, userID string, page, limit int) ([]model.Transformation, int, error)
	Stats(ctx context.Context, userID string) (*model.TransformationStats, error)
	Cancel(ctx context.Context, userID, id string) (*model.Transformation, error)
	// Retry records a fresh transformation with the input, type and
	// parameters of a failed or cancelled one. It charges quota again.
	Retry(ctx context.Context, u *model.User, id string, client ClientInfo) (*model.Transformation, error)
	ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) (*model.Transformation, error)
	// ProcessStatusMessage decodes a worker push message and applies it.
	ProcessStatusMessage(ctx context.Context, req *dto.PubSubPushRequest) (*model.Transformation, error)
}

type transformationService struct {
	transformations repository.TransformationRepository
	images          repository.ImageRepository
	usage           usageRecorder
	publisher       pubsub.Publisher
	topic           string
	now             func() time.Time
	logger          zerolog.Logger
}

// NewTransformationService builds the service. publisher may be nil, in
// which case jobs are recorded but not dispatched.
func NewTransformationService(
	transformations repository.TransformationRepository,
	images repository.ImageRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	publisher pubsub.Publisher,
	topic string,
	logger zerolog.Logger,
) TransformationService {
	l := logger.With().Str("service", "TransformationService").Logger()
	return &transformationService{
		transformations: transformations,
		images:          images,
		usage:           usageRecorder{users: users, usage: usage, logger: l},
		publisher:       publisher,
		topic:           topic,
		now:             time.Now,
		logger:          l,
	}
}

func (s *transformationService) Create(ctx context.Context, u *model.User, in CreateTransformationInput) (*model.Transformation, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidTransformationType
	}
	img, err := s.images.GetImageByID(ctx, in.InputImageID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrImageNotFound
	}
	if img.UserID != u.ID {
		return nil, ErrForbidden
	}

	params := in.Parameters
	if params == nil {
		params = map[string]any{}
	}
	t := &model.Transformation{
		UserID:       u.ID,
		InputImageID: img.ID,
		Type:         in.Type,
		Status:       model.StatusPending,
		Parameters:   params,
	}
	if err := s.transformations.CreateTransformation(ctx, t); err != nil {
		return nil, err
	}

	s.usage.charge(ctx, usageEvent{
		userID:           u.ID,
		action:           model.UsageActionTransformation,
		resourceType:     string(t.Type),
		transformationID: &t.ID,
		metadata:         map[string]any{"input_image_id": img.ID},
		client:           in.Client,
	})
	s.dispatch(ctx, t, img)

	s.logger.Info().Str("transformation_id", t.ID).Str("user_id", u.ID).Str("type", string(t.Type)).Msg("Transformation created")
	return t, nil
}

func (s *transformationService) dispatch(ctx context.Context, t *model.Transformation, input *model.Image) {
	if s.publisher == nil || s.topic == "" {
		s.logger.Debug().Str("transformation_id", t.ID).Msg("No job topic configured, transformation not dispatched")
		return
	}
	payload, err := json.Marshal(dto.TransformationJob{
		TransformationID: t.ID,
		UserID:           t.UserID,
		InputImageID:     input.ID,
		InputKey:         input.S3Key,
		InputBucket:      input.S3Bucket,
		Type:             string(t.Type),
		Parameters:       t.Parameters,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("transformation_id", t.ID).Msg("Failed to encode transformation job")
		return
	}
	msgID, err := s.publisher.Publish(ctx, s.topic, payload, map[string]string{
		"transformation_id":   t.ID,
		"transformation_type": string(t.Type),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("transformation_id", t.ID).Msg("Failed to publish transformation job")
		return
	}
	s.logger.Info().Str("transformation_id", t.ID).Str("message_id", msgID).Msg("Transformation job published")
}

func (s *transformationService) Get(ctx context.Context, userID, id string) (*model.Transformation, error) {
	t, err := s.transformations.GetTransformationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil || t.UserID != userID {
		return nil, ErrTransformationNotFound
	}
	return t, nil
}

func (s *transformationService) List(ctx context.Context, userID string, page, limit int) ([]model.Transformation, int, error) {
	limit, offset := pageBounds(page, limit)
	items, err := s.transformations.ListTransformationsByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.transformations.CountTransformationsByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *transformationService) Stats(ctx context.Context, userID string) (*model.TransformationStats, error) {
	return s.transformations.GetTransformationStats(ctx, userID)
}

func (s *transformationService) Cancel(ctx context.Context, userID, id string) (*model.Transformation, error) {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, t, StatusUpdate{Status: model.StatusCancelled}); err != nil {
		return nil, err
	}
	s.logger.Info().Str("transformation_id", t.ID).Str("user_id", userID).Msg("Transformation cancelled")
	return t, nil
}

func (s *transformationService) Retry(ctx context.Context, u *model.User, id string, client ClientInfo) (*model.Transformation, error) {
	prev, err := s.Get(ctx, u.ID, id)
	if err != nil {
		return nil, err
	}
	if prev.Status != model.StatusFailed && prev.Status != model.StatusCancelled {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, prev.Status)
	}
	t, err := s.Create(ctx, u, CreateTransformationInput{
		InputImageID: prev.InputImageID,
		Type:         prev.Type,
		Parameters:   prev.Parameters,
		Client:       client,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("transformation_id", t.ID).Str("retry_of", prev.ID).Msg("Transformation retried")
	return t, nil
}

func (s *transformationService) ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) (*model.Transformation, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, upd.Status)
	}
	t, err := s.transformations.GetTransformationByID(ctx, upd.TransformationID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTransformationNotFound
	}
	if upd.OutputImageID != nil {
		out, err := s.images.GetImageByID(ctx, *upd.OutputImageID)
		if err != nil {
			return nil, err
		}
		if out == nil || out.UserID != t.UserID {
			return nil, ErrImageNotFound
		}
	}
	if err := s.transition(ctx, t, upd); err != nil {
		return nil, err
	}

	if t.Status == model.StatusCompleted {
		if err := s.images.MarkImageProcessed(ctx, t.InputImageID); err != nil {
			s.logger.Error().Err(err).Str("image_id", t.InputImageID).Msg("Failed to mark input image processed")
		}
	}
	s.logger.Info().Str("transformation_id", t.ID).Str("status", string(t.Status)).Msg("Transformation status updated")
	return t, nil
}

// transition applies upd to t if the state machine allows it and nobody
// else changed the status in between.
func (s *transformationService) transition(ctx context.Context, t *model.Transformation, upd StatusUpdate) error {
	from := t.Status
	if !from.CanTransitionTo(upd.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, upd.Status)
	}

	now := s.now()
	t.Status = upd.Status
	if upd.Status == model.StatusProcessing {
		t.StartedAt = &now
	}
	if upd.Status.Terminal() {
		t.CompletedAt = &now
	}
	if upd.OutputImageID != nil {
		t.OutputImageID = upd.OutputImageID
	}
	if upd.ResultMetadata != nil {
		t.ResultMetadata = upd.ResultMetadata
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = upd.ErrorMessage
	}
	switch {
	case upd.ProcessingTimeMS != nil:
		t.ProcessingTimeMS = upd.ProcessingTimeMS
	case upd.Status.Terminal() && t.StartedAt != nil:
		ms := int(now.Sub(*t.StartedAt).Milliseconds())
		t.ProcessingTimeMS = &ms
	}

	if err := s.transformations.UpdateTransformationStatus(ctx, t, from); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, t.ID)
		}
		return err
	}
	return nil
}

func (s *transformationService) ProcessStatusMessage(ctx context.Context, req *dto.PubSubPushRequest) (*model.Transformation, error) {
	var msg dto.TransformationStatusMessage
	if err := req.Message.DecodeJSON(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.TransformationID == "" {
		return nil, fmt.Errorf("%w: message %s has no transformation_id", ErrMalformedMessage, req.Message.MessageID)
	}
	return s.ApplyStatusUpdate(ctx, StatusUpdate{
		TransformationID: msg.TransformationID,
		Status:           model.TransformationStatus(msg.Status),
		OutputImageID:    msg.OutputImageID,
		ResultMetadata:   msg.ResultMetadata,
		ErrorMessage:     msg.ErrorMessage,
		ProcessingTimeMS: msg.ProcessingTimeMS,
	})
}
