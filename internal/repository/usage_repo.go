package repository

import (
	"context"
	"fmt"
	"time"

	"morphflux/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository records quota-consuming actions in usage_logs.
type UsageRepository interface {
	RecordUsage(ctx context.Context, l *model.UsageLog) error
	// CountUsageSince counts a user's actions of the given kind at or after since.
	CountUsageSince(ctx context.Context, userID string, action model.UsageAction, since time.Time) (int, error)
}

type usageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) RecordUsage(ctx context.Context, l *model.UsageLog) error {
	metadata, err := encodeDocument(l.Metadata)
	if err != nil {
		return err
	}
	const q = `
        INSERT INTO usage_logs (user_id, transformation_id, action, resource_type, cost_credits, metadata, ip_address, user_agent)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`
	err = r.pool.QueryRow(ctx, q,
		l.UserID,
		l.TransformationID,
		l.Action,
		l.ResourceType,
		l.CostCredits,
		metadata,
		l.IPAddress,
		l.UserAgent,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("record %s usage for user %s: %w", l.Action, l.UserID, err)
	}
	return nil
}

func (r *usageRepo) CountUsageSince(ctx context.Context, userID string, action model.UsageAction, since time.Time) (int, error) {
	const q = `
        SELECT COUNT(*)
        FROM usage_logs
        WHERE user_id = $1
          AND action = $2
          AND created_at >= $3`
	var count int
	if err := r.pool.QueryRow(ctx, q, userID, action, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s usage for user %s: %w", action, userID, err)
	}
	return count, nil
}
