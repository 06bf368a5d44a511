package repository

import (
	"context"
	"errors"
	"fmt"

	"morphflux/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransformationRepository interface {
	CreateTransformation(ctx context.Context, t *model.Transformation) error
	GetTransformationByID(ctx context.Context, id string) (*model.Transformation, error)
	// ListTransformationsByUserID returns newest first.
	ListTransformationsByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Transformation, error)
	CountTransformationsByUserID(ctx context.Context, userID string) (int, error)
	// UpdateTransformationStatus persists the status fields of t only if the
	// stored status still equals from; otherwise it returns ErrStaleStatus.
	UpdateTransformationStatus(ctx context.Context, t *model.Transformation, from model.TransformationStatus) error
	GetTransformationStats(ctx context.Context, userID string) (*model.TransformationStats, error)
}

type transformationRepo struct {
	pool *pgxpool.Pool
}

func NewTransformationRepo(pool *pgxpool.Pool) TransformationRepository {
	return &transformationRepo{pool: pool}
}

const transformationColumns = `
        id, user_id, input_image_id, output_image_id, transformation_type, status,
        parameters, result_metadata, error_message, processing_time_ms,
        started_at, completed_at, created_at, updated_at`

func scanTransformation(row pgx.Row) (*model.Transformation, error) {
	var (
		t         model.Transformation
		rawParams []byte
		rawResult []byte
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.InputImageID,
		&t.OutputImageID,
		&t.Type,
		&t.Status,
		&rawParams,
		&rawResult,
		&t.ErrorMessage,
		&t.ProcessingTimeMS,
		&t.StartedAt,
		&t.CompletedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Parameters, err = decodeDocument(rawParams); err != nil {
		return nil, fmt.Errorf("transformation %s parameters: %w", t.ID, err)
	}
	if t.ResultMetadata, err = decodeDocument(rawResult); err != nil {
		return nil, fmt.Errorf("transformation %s result: %w", t.ID, err)
	}
	return &t, nil
}

func (r *transformationRepo) CreateTransformation(ctx context.Context, t *model.Transformation) error {
	params, err := encodeDocument(t.Parameters)
	if err != nil {
		return err
	}
	q := `
        INSERT INTO transformations (user_id, input_image_id, transformation_type, status, parameters)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING ` + transformationColumns
	created, err := scanTransformation(r.pool.QueryRow(ctx, q, t.UserID, t.InputImageID, t.Type, t.Status, params))
	if err != nil {
		return fmt.Errorf("insert transformation for user %s: %w", t.UserID, err)
	}
	*t = *created
	return nil
}

func (r *transformationRepo) GetTransformationByID(ctx context.Context, id string) (*model.Transformation, error) {
	if !isUUID(id) {
		return nil, nil
	}
	q := `SELECT ` + transformationColumns + ` FROM transformations WHERE id = $1`
	t, err := scanTransformation(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch transformation %s: %w", id, err)
	}
	return t, nil
}

func (r *transformationRepo) ListTransformationsByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Transformation, error) {
	q := `
        SELECT ` + transformationColumns + `
        FROM transformations
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transformations for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.Transformation{}
	for rows.Next() {
		t, err := scanTransformation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transformation for user %s: %w", userID, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transformations for user %s: %w", userID, err)
	}
	return out, nil
}

func (r *transformationRepo) CountTransformationsByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transformations WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transformations for user %s: %w", userID, err)
	}
	return count, nil
}

func (r *transformationRepo) UpdateTransformationStatus(ctx context.Context, t *model.Transformation, from model.TransformationStatus) error {
	result, err := encodeDocument(t.ResultMetadata)
	if err != nil {
		return err
	}
	q := `
        UPDATE transformations
        SET status = $3,
            output_image_id = $4,
            result_metadata = $5,
            error_message = $6,
            processing_time_ms = $7,
            started_at = $8,
            completed_at = $9,
            updated_at = NOW()
        WHERE id = $1 AND status = $2
        RETURNING ` + transformationColumns
	updated, err := scanTransformation(r.pool.QueryRow(ctx, q,
		t.ID,
		from,
		t.Status,
		t.OutputImageID,
		result,
		t.ErrorMessage,
		t.ProcessingTimeMS,
		t.StartedAt,
		t.CompletedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleStatus
		}
		return fmt.Errorf("update transformation %s status: %w", t.ID, err)
	}
	*t = *updated
	return nil
}

func (r *transformationRepo) GetTransformationStats(ctx context.Context, userID string) (*model.TransformationStats, error) {
	const q = `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE status = 'pending'),
            COUNT(*) FILTER (WHERE status = 'processing'),
            COUNT(*) FILTER (WHERE status = 'completed'),
            COUNT(*) FILTER (WHERE status = 'failed'),
            COUNT(*) FILTER (WHERE status = 'cancelled'),
            COALESCE(AVG(processing_time_ms), 0)::float8
        FROM transformations
        WHERE user_id = $1`
	var s model.TransformationStats
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&s.Total,
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
		&s.AvgProcessingTimeMS,
	)
	if err != nil {
		return nil, fmt.Errorf("transformation stats for user %s: %w", userID, err)
	}
	return &s, nil
}
