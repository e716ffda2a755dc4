package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrValidation            = errors.New("validation failed")
	ErrGoogleNotConnected    = errors.New("customer has no connected Google account")
	ErrSyncInProgress        = errors.New("tracking sync in progress")
	ErrDuplicateTracking     = errors.New("tracking with the same type, selector and url pattern already exists")
	ErrScanCancelled         = errors.New("scan has been cancelled")
	ErrScanTerminal          = errors.New("scan is already finished")
	ErrPhaseNotReady         = errors.New("scan is not ready for this step")
	ErrChunkInProgress       = errors.New("another chunk is being processed for this scan")
	ErrRecommendationCreated = errors.New("recommendation already created as tracking")
	ErrBatchFinished         = errors.New("batch already completed")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a field-level validation error.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
