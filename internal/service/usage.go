package service

import (
	"context"

	"github.com/rs/zerolog"

	"morphflux/internal/model"
	"morphflux/internal/repository"
)

// ClientInfo identifies the caller of a quota-consuming request.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// usageRecorder charges one unit of the monthly quota after a gated
// operation has succeeded. The quota gate runs earlier, so two concurrent
// requests can both pass it and overshoot the limit.
type usageRecorder struct {
	users  repository.UserRepository
	usage  repository.UsageRepository
	logger zerolog.Logger
}

type usageEvent struct {
	userID           string
	action           model.UsageAction
	resourceType     string
	transformationID *string
	metadata         map[string]any
	client           ClientInfo
}

// charge increments monthly_usage and writes a usage log. Failures are
// logged only; the operation being charged has already happened.
func (r usageRecorder) charge(ctx context.Context, ev usageEvent) {
	newUsage, err := r.users.IncrementUsage(ctx, ev.userID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", ev.userID).Msg("Failed to increment monthly usage")
	}

	entry := &model.UsageLog{
		UserID:           ev.userID,
		TransformationID: ev.transformationID,
		Action:           ev.action,
		CostCredits:      1,
		Metadata:         ev.metadata,
	}
	if ev.resourceType != "" {
		entry.ResourceType = &ev.resourceType
	}
	if ev.client.IP != "" {
		entry.IPAddress = &ev.client.IP
	}
	if ev.client.UserAgent != "" {
		entry.UserAgent = &ev.client.UserAgent
	}
	if err := r.usage.RecordUsage(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("user_id", ev.userID).Str("action", string(ev.action)).Msg("Failed to record usage log")
		return
	}
	r.logger.Debug().Str("user_id", ev.userID).Str("action", string(ev.action)).Int("monthly_usage", newUsage).Msg("Usage charged")
}
