package model

import (
	"encoding/json"
	"time"
)

// Image is an uploaded file stored privately in the object store.
type Image struct {
	ID               string        `db:"id" json:"id"`
	UserID           string        `db:"user_id" json:"user_id"`
	OriginalFilename string        `db:"original_filename" json:"original_filename"`
	StoredFilename   string        `db:"stored_filename" json:"stored_filename"`
	FilePath         string        `db:"file_path" json:"file_path"`
	S3Key            string        `db:"s3_key" json:"s3_key"`
	S3Bucket         string        `db:"s3_bucket" json:"s3_bucket"`
	CDNURL           *string       `db:"cdn_url" json:"cdn_url"`
	MimeType         string        `db:"mime_type" json:"mime_type"`
	FileSize         int64         `db:"file_size" json:"file_size"`
	Width            *int          `db:"width" json:"width"`
	Height           *int          `db:"height" json:"height"`
	Metadata         ImageMetadata `db:"metadata" json:"metadata"`
	IsProcessed      bool          `db:"is_processed" json:"is_processed"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// ImageMetadata holds extracted image properties. Attributes carries any
// client-supplied keys that have no dedicated field; they are flattened
// into the same JSON object.
type ImageMetadata struct {
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	Format     string         `json:"format,omitempty"`
	HasAlpha   bool           `json:"hasAlpha,omitempty"`
	Channels   int            `json:"channels,omitempty"`
	ColorModel string         `json:"colorModel,omitempty"`
	Attributes map[string]any `json:"-"`
}

type imageMetadataFields ImageMetadata

var imageMetadataKeys = map[string]struct{}{
	"width": {}, "height": {}, "format": {}, "hasAlpha": {},
	"channels": {}, "colorModel": {},
}

func (m ImageMetadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(imageMetadataFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Attributes) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(m.Attributes)+len(imageMetadataKeys))
	for k, v := range m.Attributes {
		if _, reserved := imageMetadataKeys[k]; !reserved {
			merged[k] = v
		}
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

func (m *ImageMetadata) UnmarshalJSON(data []byte) error {
	var fields imageMetadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range imageMetadataKeys {
		delete(raw, k)
	}
	*m = ImageMetadata(fields)
	if len(raw) > 0 {
		m.Attributes = raw
	}
	return nil
}

// IsZero reports whether nothing was extracted or supplied.
func (m ImageMetadata) IsZero() bool {
	return m.Width == 0 && m.Height == 0 && m.Format == "" && !m.HasAlpha &&
		m.Channels == 0 && m.ColorModel == "" && len(m.Attributes) == 0
}
