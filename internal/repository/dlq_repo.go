package repository

import (
	"context"
	"fmt"

	"morphflux/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DLQRepository interface {
	// Create stores the message; a redelivered message id is ignored.
	Create(ctx context.Context, message *model.DeadLetterMessage) error
}

type dlqRepository struct {
	pool *pgxpool.Pool
}

func NewDLQRepository(pool *pgxpool.Pool) DLQRepository {
	return &dlqRepository{pool: pool}
}

func (r *dlqRepository) Create(ctx context.Context, message *model.DeadLetterMessage) error {
	const q = `
        INSERT INTO dead_letter_messages (subscription_name, message_id, transformation_id, payload, attributes, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (subscription_name, message_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q,
		message.SubscriptionName,
		message.MessageID,
		message.TransformationID,
		message.Payload,
		message.Attributes,
		message.Status,
	)
	if err != nil {
		return fmt.Errorf("store dead letter message %s: %w", message.MessageID, err)
	}
	return nil
}
