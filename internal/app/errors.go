package app

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/completion"
	"canvas/api/internal/export"
	"canvas/api/internal/history"
	"canvas/api/internal/media"
	"canvas/api/internal/store"
)

type DomainError struct {
	Status     int
	Code       string
	Message    string
	Details    any
	RetryAfter time.Duration
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, map[string]string{"field": field})
}

var (
	errUnauthorized          = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errNotFound              = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	errStorageUnavailable    = domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image storage is not configured", nil)
	errCompletionUnavailable = domainError(http.StatusServiceUnavailable, "COMPLETION_UNAVAILABLE", "Completion service is not configured", nil)
	errHistoryUnavailable    = domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Snapshot history is not configured", nil)
)

// mapError turns any service error into the response the client sees.
// Messages are generic; detail stays in the server log.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var validation *authpw.ValidationError
	if errors.As(err, &validation) {
		return validationError(validation.Field, validation.Message)
	}
	var locked *authpw.LockedError
	if errors.As(err, &locked) {
		e := domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many failed sign-in attempts", nil)
		e.RetryAfter = locked.RetryAfter
		return e
	}
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrDuplicateEmail):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "An account with this email already exists", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return errUnauthorized
	case errors.Is(err, authpw.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, history.ErrNoHistory),
		errors.Is(err, history.ErrInvalidID),
		errors.Is(err, media.ErrNotFound),
		errors.Is(err, media.ErrInvalidKey):
		return errNotFound
	case errors.Is(err, completion.ErrUnknownAction):
		return validationError("action", "Unknown action")
	case errors.Is(err, completion.ErrUpstream):
		return domainError(http.StatusInternalServerError, "UPSTREAM_ERROR", "Completion service failed", nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationError("format", "Unsupported export format")
	case errors.Is(err, export.ErrPDFUnavailable):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
	case errors.Is(err, media.ErrTooLarge):
		return validationError("file", "Image exceeds 5 MB")
	case errors.Is(err, media.ErrNotImage):
		return validationError("file", "Only image uploads are accepted")
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(d.Seconds()))))
}
