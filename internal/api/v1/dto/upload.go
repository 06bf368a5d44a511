package dto

import (
	"time"

	"morphflux/internal/model"
)

// ImageResponse is the public view of a stored image.
type ImageResponse struct {
	ID               string               `json:"id"`
	OriginalFilename string               `json:"original_filename"`
	MimeType         string               `json:"mime_type"`
	FileSize         int64                `json:"file_size"`
	Width            *int                 `json:"width"`
	Height           *int                 `json:"height"`
	URL              string               `json:"url"`
	IsProcessed      bool                 `json:"is_processed"`
	Metadata         *model.ImageMetadata `json:"metadata,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func NewImageResponse(img *model.Image, url string) ImageResponse {
	return ImageResponse{
		ID:               img.ID,
		OriginalFilename: img.OriginalFilename,
		MimeType:         img.MimeType,
		FileSize:         img.FileSize,
		Width:            img.Width,
		Height:           img.Height,
		URL:              url,
		IsProcessed:      img.IsProcessed,
		CreatedAt:        img.CreatedAt,
	}
}

type UploadInfo struct {
	FileSize   int64  `json:"file_size"`
	Dimensions string `json:"dimensions"`
	Format     string `json:"format"`
}

type UploadResponse struct {
	Image      ImageResponse `json:"image"`
	UploadInfo UploadInfo    `json:"upload_info"`
}

type PresignedURLRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required"`
	FileSize    int64  `json:"fileSize" validate:"required,gt=0"`
}

type PresignedURLResponse struct {
	UploadURL string `json:"upload_url"`
	FileKey   string `json:"file_key"`
	ExpiresIn int    `json:"expires_in"`
}

type ConfirmUploadRequest struct {
	FileKey          string         `json:"file_key" validate:"required"`
	OriginalFilename string         `json:"original_filename" validate:"required,max=255"`
	FileSize         int64          `json:"file_size" validate:"omitempty,gt=0"`
	Metadata         map[string]any `json:"metadata"`
}
