package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"morphflux/internal/imagemeta"
	"morphflux/internal/model"
	"morphflux/internal/repository"
	"morphflux/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ImageServiceConfig struct {
	MaxFileSize    int64
	AllowedTypes   []string
	CDNDomain      string
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
}

type UploadInput struct {
	Filename string
	Data     []byte
	Client   ClientInfo
}

type ConfirmUploadInput struct {
	FileKey          string
	OriginalFilename string
	FileSize         int64
	Metadata         map[string]any
	Client           ClientInfo
}

type PresignedUpload struct {
	UploadURL string `json:"upload_url"`
	FileKey   string `json:"file_key"`
	ExpiresIn int    `json:"expires_in"`
}

type ImageService interface {
	// Upload validates and stores the file, then charges one unit of quota.
	Upload(ctx context.Context, u *model.User, in UploadInput) (*model.Image, error)
	PresignUpload(ctx context.Context, u *model.User, filename, contentType string, size int64) (*PresignedUpload, error)
	// ConfirmUpload records an object the client uploaded through a
	// presigned URL.
	ConfirmUpload(ctx context.Context, u *model.User, in ConfirmUploadInput) (*model.Image, error)
	Get(ctx context.Context, userID, imageID string) (*model.Image, error)
	List(ctx context.Context, userID string, page, limit int) ([]model.Image, int, error)
	// Delete removes the stored object best-effort, then the record.
	Delete(ctx context.Context, userID, imageID string) error
	// URL is the CDN URL when configured, otherwise a short-lived presigned GET.
	URL(ctx context.Context, img *model.Image) string
	MaxFileSize() int64
	AllowedTypes() []string
}

type imageService struct {
	images repository.ImageRepository
	store  storage.ObjectStore
	usage  usageRecorder
	cfg    ImageServiceConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewImageService(
	images repository.ImageRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	store storage.ObjectStore,
	cfg ImageServiceConfig,
	logger zerolog.Logger,
) ImageService {
	l := logger.With().Str("service", "ImageService").Logger()
	return &imageService{
		images: images,
		store:  store,
		usage:  usageRecorder{users: users, usage: usage, logger: l},
		cfg:    cfg,
		now:    time.Now,
		logger: l,
	}
}

func (s *imageService) MaxFileSize() int64     { return s.cfg.MaxFileSize }
func (s *imageService) AllowedTypes() []string { return s.cfg.AllowedTypes }

func (s *imageService) allowed(contentType string) bool {
	return slices.Contains(s.cfg.AllowedTypes, contentType)
}

func (s *imageService) Upload(ctx context.Context, u *model.User, in UploadInput) (*model.Image, error) {
	size := int64(len(in.Data))
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	contentType := imagemeta.DetectContentType(in.Data)
	if !s.allowed(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}

	meta, err := imagemeta.Extract(in.Data)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Could not extract image metadata")
		meta = nil
	}

	now := s.now()
	key := storage.GenerateImageKey(u.ID, in.Filename, now)
	err = s.store.Put(ctx, key, bytes.NewReader(in.Data), size, contentType, map[string]string{
		"original-name": storage.SanitizeFilename(in.Filename),
		"uploaded-by":   u.ID,
		"upload-time":   now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	img := s.newImage(u.ID, key, in.Filename, contentType, size)
	if meta != nil {
		img.Metadata = *meta
		img.Width, img.Height = &meta.Width, &meta.Height
	}
	if err := s.images.CreateImage(ctx, img); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("object_key", key).Msg("Failed to remove orphaned object")
		}
		return nil, err
	}

	s.usage.charge(ctx, usageEvent{
		userID:       u.ID,
		action:       model.UsageActionUpload,
		resourceType: "image",
		metadata:     map[string]any{"image_id": img.ID, "file_size": size},
		client:       in.Client,
	})
	s.logger.Info().Str("image_id", img.ID).Str("user_id", u.ID).Int64("file_size", size).Msg("Image uploaded")
	return img, nil
}

func (s *imageService) newImage(userID, key, originalName, contentType string, size int64) *model.Image {
	return &model.Image{
		UserID:           userID,
		OriginalFilename: originalName,
		StoredFilename:   path.Base(key),
		FilePath:         fmt.Sprintf("s3://%s/%s", s.store.Bucket(), key),
		S3Key:            key,
		S3Bucket:         s.store.Bucket(),
		CDNURL:           storage.CDNURL(s.cfg.CDNDomain, key),
		MimeType:         contentType,
		FileSize:         size,
	}
}

func (s *imageService) PresignUpload(ctx context.Context, u *model.User, filename, contentType string, size int64) (*PresignedUpload, error) {
	if size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !s.allowed(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}
	key := storage.GenerateImageKey(u.ID, filename, s.now())
	url, err := s.store.PresignPut(ctx, key, contentType, s.cfg.UploadURLTTL)
	if err != nil {
		return nil, err
	}
	return &PresignedUpload{
		UploadURL: url,
		FileKey:   key,
		ExpiresIn: int(s.cfg.UploadURLTTL.Seconds()),
	}, nil
}

func (s *imageService) ConfirmUpload(ctx context.Context, u *model.User, in ConfirmUploadInput) (*model.Image, error) {
	if !storage.OwnedBy(in.FileKey, u.ID) {
		return nil, ErrForbidden
	}
	info, err := s.store.Head(ctx, in.FileKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}

	reject := func(cause error) (*model.Image, error) {
		if delErr := s.store.Delete(ctx, in.FileKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("object_key", in.FileKey).Msg("Failed to remove rejected upload")
		}
		return nil, cause
	}
	if info.Size > s.cfg.MaxFileSize {
		return reject(ErrFileTooLarge)
	}
	if !s.allowed(info.ContentType) {
		return reject(fmt.Errorf("%w: %s", ErrUnsupportedFileType, info.ContentType))
	}

	size := info.Size
	if size == 0 {
		size = in.FileSize
	}
	img := s.newImage(u.ID, in.FileKey, in.OriginalFilename, info.ContentType, size)
	if len(in.Metadata) > 0 {
		meta, err := metadataFromMap(in.Metadata)
		if err != nil {
			s.logger.Warn().Err(err).Str("object_key", in.FileKey).Msg("Ignoring unreadable client metadata")
		} else {
			img.Metadata = meta
			if meta.Width > 0 && meta.Height > 0 {
				img.Width, img.Height = &meta.Width, &meta.Height
			}
		}
	}
	if err := s.images.CreateImage(ctx, img); err != nil {
		return nil, err
	}

	s.usage.charge(ctx, usageEvent{
		userID:       u.ID,
		action:       model.UsageActionUpload,
		resourceType: "image",
		metadata:     map[string]any{"image_id": img.ID, "file_size": size, "presigned": true},
		client:       in.Client,
	})
	s.logger.Info().Str("image_id", img.ID).Str("user_id", u.ID).Msg("Presigned upload confirmed")
	return img, nil
}

func metadataFromMap(m map[string]any) (model.ImageMetadata, error) {
	var meta model.ImageMetadata
	raw, err := json.Marshal(m)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(raw, &meta)
	return meta, err
}

func (s *imageService) Get(ctx context.Context, userID, imageID string) (*model.Image, error) {
	img, err := s.images.GetImageByID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrImageNotFound
	}
	if img.UserID != userID {
		return nil, ErrForbidden
	}
	return img, nil
}

func (s *imageService) List(ctx context.Context, userID string, page, limit int) ([]model.Image, int, error) {
	limit, offset := pageBounds(page, limit)
	images, err := s.images.ListImagesByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.images.CountImagesByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

func (s *imageService) Delete(ctx context.Context, userID, imageID string) error {
	img, err := s.Get(ctx, userID, imageID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, img.S3Key); err != nil {
		s.logger.Warn().Err(err).Str("image_id", img.ID).Str("object_key", img.S3Key).Msg("Failed to delete object, removing record anyway")
	}
	if err := s.images.DeleteImage(ctx, img.ID); err != nil {
		return err
	}
	s.logger.Info().Str("image_id", img.ID).Str("user_id", userID).Msg("Image deleted")
	return nil
}

func (s *imageService) URL(ctx context.Context, img *model.Image) string {
	if img.CDNURL != nil {
		return *img.CDNURL
	}
	url, err := s.store.PresignGet(ctx, img.S3Key, s.cfg.DownloadURLTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("image_id", img.ID).Msg("Failed to presign image URL")
		return ""
	}
	return url
}

// NormalizePage clamps a 1-based page number and a page size.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func pageBounds(page, limit int) (int, int) {
	page, limit = NormalizePage(page, limit)
	return limit, (page - 1) * limit
}
