package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound             = errors.New("user not found")
	ErrEmailAlreadyRegistered   = errors.New("email already registered")
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrAccountInactive          = errors.New("account is deactivated")
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	ErrEmailAlreadyVerified     = errors.New("email is already verified")
	ErrInvalidResetToken        = errors.New("invalid or expired reset token")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrRefreshTokenExpired      = errors.New("refresh token expired")
	ErrIncorrectPassword        = errors.New("password is incorrect")
	ErrTooManyAttempts          = errors.New("too many attempts")

	ErrImageNotFound       = errors.New("image not found")
	ErrForbidden           = errors.New("access denied")
	ErrEmptyFile           = errors.New("file is empty")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("invalid file type")
	ErrUploadNotFound      = errors.New("file not found in storage")

	ErrTransformationNotFound    = errors.New("transformation not found")
	ErrInvalidTransformationType = errors.New("invalid transformation type")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrNotRetryable              = errors.New("transformation is not retryable")
	ErrMalformedMessage          = errors.New("malformed worker message")
)

// TooManyAttemptsError carries how long the caller should wait.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Is(target error) bool {
	return target == ErrTooManyAttempts
}
