// Package errors provides error code definitions shared across the sync engine.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to API clients.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"
	// ErrTransientStore marks storage unavailability that the coordinator
	// retries with backoff instead of surfacing immediately.
	ErrTransientStore ErrorCode = "TRANSIENT_STORE_ERROR"

	// Sync errors
	// ErrVersionConflict is the internal race between a conflict check and
	// the append for the same entity key. Retryable by the coordinator.
	ErrVersionConflict ErrorCode = "VERSION_CONFLICT"
	// ErrSyncConflict is a business conflict: two devices built on the same
	// base version. Surfaced as a Conflicted result, never auto-retried.
	ErrSyncConflict ErrorCode = "SYNC_CONFLICT"
	// ErrDeliveryExhausted marks a queue item whose retry ceiling was
	// exceeded. Reported, not retried further.
	ErrDeliveryExhausted ErrorCode = "DELIVERY_EXHAUSTED"
	ErrDeviceInactive    ErrorCode = "DEVICE_INACTIVE"
	ErrAlreadyResolved   ErrorCode = "ALREADY_RESOLVED"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code. It walks the Unwrap chain
// so wrapped AppErrors keep their code visible at the boundary.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err carries none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}
