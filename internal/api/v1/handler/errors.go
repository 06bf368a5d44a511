package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/response"
	"morphflux/internal/service"
)

type apiError struct {
	status int
	msg    string
	code   string
}

var serviceErrors = []struct {
	err error
	api apiError
}{
	{service.ErrEmailAlreadyRegistered, apiError{http.StatusConflict, "User with this email already exists", ""}},
	{service.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "Invalid email or password", ""}},
	{service.ErrAccountInactive, apiError{http.StatusUnauthorized, "Account is deactivated", ""}},
	{service.ErrInvalidRefreshToken, apiError{http.StatusUnauthorized, "Invalid refresh token", ""}},
	{service.ErrRefreshTokenExpired, apiError{http.StatusUnauthorized, "Refresh token expired", ""}},
	{service.ErrInvalidVerificationToken, apiError{http.StatusBadRequest, "Invalid or expired verification token", ""}},
	{service.ErrEmailAlreadyVerified, apiError{http.StatusBadRequest, "Email is already verified", ""}},
	{service.ErrInvalidResetToken, apiError{http.StatusBadRequest, "Invalid or expired reset token", ""}},
	{service.ErrIncorrectPassword, apiError{http.StatusBadRequest, "Password is incorrect", ""}},
	{service.ErrUserNotFound, apiError{http.StatusNotFound, "User not found", ""}},
	{service.ErrImageNotFound, apiError{http.StatusNotFound, "Image not found", ""}},
	{service.ErrForbidden, apiError{http.StatusForbidden, "Access denied", ""}},
	{service.ErrEmptyFile, apiError{http.StatusBadRequest, "No file uploaded", ""}},
	{service.ErrFileTooLarge, apiError{http.StatusRequestEntityTooLarge, "File too large", ""}},
	{service.ErrUnsupportedFileType, apiError{http.StatusBadRequest, "Invalid file type", ""}},
	{service.ErrUploadNotFound, apiError{http.StatusNotFound, "File not found in storage", ""}},
	{service.ErrTransformationNotFound, apiError{http.StatusNotFound, "Transformation not found", ""}},
	{service.ErrInvalidTransformationType, apiError{http.StatusBadRequest, "Invalid transformation type", ""}},
	{service.ErrInvalidTransition, apiError{http.StatusConflict, "Invalid status transition", "INVALID_STATUS_TRANSITION"}},
	{service.ErrNotRetryable, apiError{http.StatusConflict, "Only failed or cancelled transformations can be retried", "NOT_RETRYABLE"}},
}

// writeError maps service errors onto the API's status taxonomy. Anything
// unclassified is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var throttled *service.TooManyAttemptsError
	if errors.As(err, &throttled) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
		response.FailCode(w, http.StatusTooManyRequests, "Too many attempts, please try again later", "TOO_MANY_ATTEMPTS", nil)
		return
	}
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			response.FailCode(w, e.api.status, e.api.msg, e.api.code, nil)
			return
		}
	}
	logger.Error().Err(err).Msg("Unhandled error")
	response.InternalError(w)
}
