package handler

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/dto"
	"morphflux/internal/api/v1/response"
	"morphflux/internal/middleware"
	"morphflux/internal/model"
	"morphflux/internal/service"
)

// multipartOverhead is the slack allowed on top of the file size for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

type UploadHandler struct {
	imageService service.ImageService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewUploadHandler(imageService service.ImageService, v *validator.Validate, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		imageService: imageService,
		validate:     v,
		logger:       logger.With().Str("handler", "upload").Logger(),
	}
}

// RegisterRoutes mounts the /upload routes. Creating uploads is quota-gated.
func (h *UploadHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Route("/upload", func(r chi.Router) {
		r.Use(authMw)
		r.With(middleware.RequireQuota).Post("/image", h.UploadImage)
		r.With(middleware.RequireQuota).Post("/presigned-url", h.PresignedURL)
		r.With(middleware.RequireQuota).Post("/confirm-upload", h.ConfirmUpload)
		r.Get("/images", h.ListImages)
		r.Get("/images/{id}", h.GetImage)
		r.Delete("/images/{id}", h.DeleteImage)
	})
}

func (h *UploadHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		mb := int(math.Round(float64(h.imageService.MaxFileSize()) / 1024 / 1024))
		response.FailCode(w, http.StatusRequestEntityTooLarge, "File too large", "", fmt.Sprintf("Maximum file size: %dMB", mb))
	case errors.Is(err, service.ErrUnsupportedFileType):
		response.FailCode(w, http.StatusBadRequest, "Invalid file type", "", "Allowed types: "+strings.Join(h.imageService.AllowedTypes(), ", "))
	default:
		writeError(w, h.logger, err)
	}
}

func (h *UploadHandler) imageView(r *http.Request, img *model.Image) dto.ImageResponse {
	return dto.NewImageResponse(img, h.imageService.URL(r.Context(), img))
}

// UploadImage godoc
// @Summary Upload an image
// @Description Stores the file privately and charges one unit of monthly quota.
// @Tags upload
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Image file"
// @Success 201 {object} response.Envelope{data=dto.UploadResponse}
// @Failure 400 {object} response.Envelope "No file uploaded or invalid file type"
// @Failure 413 {object} response.Envelope "File too large"
// @Failure 429 {object} response.Envelope "Monthly usage limit reached"
// @Router /upload/image [post]
func (h *UploadHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	maxSize := h.imageService.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, service.ErrFileTooLarge)
			return
		}
		response.Fail(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read uploaded file")
		response.Fail(w, http.StatusBadRequest, "File upload error")
		return
	}

	u, _ := middleware.UserFromContext(r.Context())
	img, err := h.imageService.Upload(r.Context(), u, service.UploadInput{
		Filename: header.Filename,
		Data:     data,
		Client:   clientInfo(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	dimensions := "Unknown"
	if img.Width != nil && img.Height != nil {
		dimensions = fmt.Sprintf("%dx%d", *img.Width, *img.Height)
	}
	format := img.Metadata.Format
	if format == "" {
		format = "unknown"
	}
	response.OK(w, http.StatusCreated, "Image uploaded successfully", dto.UploadResponse{
		Image: h.imageView(r, img),
		UploadInfo: dto.UploadInfo{
			FileSize:   img.FileSize,
			Dimensions: dimensions,
			Format:     format,
		},
	})
}

// ListImages godoc
// @Summary List the caller's images
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, at most 100"
// @Success 200 {object} response.Envelope
// @Router /upload/images [get]
func (h *UploadHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	page, limit := pageParams(r)
	images, total, err := h.imageService.List(r.Context(), u.ID, page, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]dto.ImageResponse, 0, len(images))
	for i := range images {
		views = append(views, h.imageView(r, &images[i]))
	}
	response.OK(w, http.StatusOK, "", map[string]any{
		"images":     views,
		"pagination": response.NewPagination(page, limit, total),
	})
}

// GetImage godoc
// @Summary Get one image
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param id path string true "Image ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Access denied"
// @Failure 404 {object} response.Envelope "Image not found"
// @Router /upload/images/{id} [get]
func (h *UploadHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	img, err := h.imageService.Get(r.Context(), u.ID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	view := h.imageView(r, img)
	view.Metadata = &img.Metadata
	response.OK(w, http.StatusOK, "", map[string]any{"image": view})
}

// DeleteImage godoc
// @Summary Delete one image
// @Tags upload
// @Produce json
// @Security BearerAuth
// @Param id path string true "Image ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Access denied"
// @Failure 404 {object} response.Envelope "Image not found"
// @Router /upload/images/{id} [delete]
func (h *UploadHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	if err := h.imageService.Delete(r.Context(), u.ID, id); err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, http.StatusOK, "Image deleted successfully", nil)
}

// PresignedURL godoc
// @Summary Get a presigned upload URL
// @Description The client PUTs the file directly to storage, then calls confirm-upload.
// @Tags upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.PresignedURLRequest true "Declared file"
// @Success 200 {object} response.Envelope{data=dto.PresignedURLResponse}
// @Failure 400 {object} response.Envelope "Invalid file type"
// @Failure 413 {object} response.Envelope "File too large"
// @Router /upload/presigned-url [post]
func (h *UploadHandler) PresignedURL(w http.ResponseWriter, r *http.Request) {
	var req dto.PresignedURLRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	p, err := h.imageService.PresignUpload(r.Context(), u, req.Filename, req.ContentType, req.FileSize)
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, http.StatusOK, "", dto.PresignedURLResponse{
		UploadURL: p.UploadURL,
		FileKey:   p.FileKey,
		ExpiresIn: p.ExpiresIn,
	})
}

// ConfirmUpload godoc
// @Summary Record a presigned upload
// @Tags upload
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.ConfirmUploadRequest true "Uploaded object"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Access denied"
// @Failure 404 {object} response.Envelope "File not found in storage"
// @Router /upload/confirm-upload [post]
func (h *UploadHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmUploadRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	img, err := h.imageService.ConfirmUpload(r.Context(), u, service.ConfirmUploadInput{
		FileKey:          req.FileKey,
		OriginalFilename: req.OriginalFilename,
		FileSize:         req.FileSize,
		Metadata:         req.Metadata,
		Client:           clientInfo(r),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, http.StatusCreated, "Upload confirmed successfully", map[string]any{"image": h.imageView(r, img)})
}
