package repository

import (
	"context"
	"errors"
	"fmt"

	"morphflux/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ImageRepository interface {
	CreateImage(ctx context.Context, img *model.Image) error
	GetImageByID(ctx context.Context, id string) (*model.Image, error)
	// ListImagesByUserID returns newest first.
	ListImagesByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Image, error)
	CountImagesByUserID(ctx context.Context, userID string) (int, error)
	ListStorageKeysByUserID(ctx context.Context, userID string) ([]string, error)
	MarkImageProcessed(ctx context.Context, id string) error
	DeleteImage(ctx context.Context, id string) error
}

type imageRepo struct {
	pool *pgxpool.Pool
}

func NewImageRepo(pool *pgxpool.Pool) ImageRepository {
	return &imageRepo{pool: pool}
}

const imageColumns = `
        id, user_id, original_filename, stored_filename, file_path, s3_key, s3_bucket,
        cdn_url, mime_type, file_size, width, height, metadata, is_processed,
        created_at, updated_at`

func scanImage(row pgx.Row) (*model.Image, error) {
	var (
		img         model.Image
		s3Key       *string
		s3Bucket    *string
		rawMetadata []byte
	)
	err := row.Scan(
		&img.ID,
		&img.UserID,
		&img.OriginalFilename,
		&img.StoredFilename,
		&img.FilePath,
		&s3Key,
		&s3Bucket,
		&img.CDNURL,
		&img.MimeType,
		&img.FileSize,
		&img.Width,
		&img.Height,
		&rawMetadata,
		&img.IsProcessed,
		&img.CreatedAt,
		&img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s3Key != nil {
		img.S3Key = *s3Key
	}
	if s3Bucket != nil {
		img.S3Bucket = *s3Bucket
	}
	if img.Metadata, err = decodeImageMetadata(rawMetadata); err != nil {
		return nil, fmt.Errorf("image %s: %w", img.ID, err)
	}
	return &img, nil
}

func (r *imageRepo) CreateImage(ctx context.Context, img *model.Image) error {
	metadata, err := encodeImageMetadata(img.Metadata)
	if err != nil {
		return err
	}
	q := `
        INSERT INTO images (
            user_id, original_filename, stored_filename, file_path, s3_key, s3_bucket,
            cdn_url, mime_type, file_size, width, height, metadata, is_processed
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING ` + imageColumns
	created, err := scanImage(r.pool.QueryRow(ctx, q,
		img.UserID,
		img.OriginalFilename,
		img.StoredFilename,
		img.FilePath,
		img.S3Key,
		img.S3Bucket,
		img.CDNURL,
		img.MimeType,
		img.FileSize,
		img.Width,
		img.Height,
		metadata,
		img.IsProcessed,
	))
	if err != nil {
		return fmt.Errorf("insert image for user %s: %w", img.UserID, err)
	}
	*img = *created
	return nil
}

func (r *imageRepo) GetImageByID(ctx context.Context, id string) (*model.Image, error) {
	if !isUUID(id) {
		return nil, nil
	}
	q := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`
	img, err := scanImage(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch image %s: %w", id, err)
	}
	return img, nil
}

func (r *imageRepo) ListImagesByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Image, error) {
	q := `
        SELECT ` + imageColumns + `
        FROM images
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list images for user %s: %w", userID, err)
	}
	defer rows.Close()

	images := []model.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image for user %s: %w", userID, err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images for user %s: %w", userID, err)
	}
	return images, nil
}

func (r *imageRepo) CountImagesByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count images for user %s: %w", userID, err)
	}
	return count, nil
}

func (r *imageRepo) ListStorageKeysByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT s3_key FROM images WHERE user_id = $1 AND s3_key IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("list storage keys for user %s: %w", userID, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect storage keys for user %s: %w", userID, err)
	}
	return keys, nil
}

func (r *imageRepo) MarkImageProcessed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE images SET is_processed = TRUE, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark image %s processed: %w", id, err)
	}
	return nil
}

func (r *imageRepo) DeleteImage(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	return nil
}
