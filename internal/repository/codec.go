package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"morphflux/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleStatus is returned when a conditional status update finds the
	// row no longer in the expected status.
	ErrStaleStatus = errors.New("status changed concurrently")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isUUID guards uuid columns against malformed path parameters, which
// Postgres would otherwise reject with a cast error.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// JSON columns are bound as text. A []byte argument would be sent as a
// bytea literal under the simple protocol, which jsonb rejects.
func encodeImageMetadata(m model.ImageMetadata) (*string, error) {
	if m.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode image metadata: %w", err)
	}
	doc := string(b)
	return &doc, nil
}

func decodeImageMetadata(raw []byte) (model.ImageMetadata, error) {
	var m model.ImageMetadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode image metadata: %w", err)
	}
	return m, nil
}

// encodeDocument stores free-form JSON objects; an empty map becomes NULL.
func encodeDocument(doc map[string]any) (*string, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	text := string(b)
	return &text, nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
