// Package engineerr provides shared error types used across the ingestion
// engine's packages. It exists to avoid import cycles between the pipeline
// and its step implementations.
package engineerr

import (
	"errors"
	"fmt"
)

// NonRetryableError represents an error that should not be retried.
// Operations that encounter this error type should fail immediately
// without retry attempts.
type NonRetryableError struct {
	message string
	cause   error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *NonRetryableError) Unwrap() error {
	return e.cause
}

// Is checks if the target error is a NonRetryableError.
func (e *NonRetryableError) Is(target error) bool {
	_, ok := target.(*NonRetryableError)
	return ok
}

// NewNonRetryableError creates a new non-retryable error with a message and optional cause.
func NewNonRetryableError(message string, cause error) error {
	return &NonRetryableError{
		message: message,
		cause:   cause,
	}
}

// WrapNonRetryable wraps an existing error as non-retryable.
func WrapNonRetryable(cause error) error {
	if cause == nil {
		return nil
	}
	return &NonRetryableError{
		message: "operation failed with non-retryable error",
		cause:   cause,
	}
}

// IsNonRetryable checks if an error is non-retryable.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryableErr *NonRetryableError
	return errors.As(err, &nonRetryableErr)
}

// Sentinel errors for common non-retryable conditions surfaced by the
// pipeline steps (archive, quarantine, bundler).
var (
	// ErrArchiveIterationCapExceeded indicates a nested archive exceeded the
	// recursive-extraction iteration cap and was left quarantined.
	ErrArchiveIterationCapExceeded = &NonRetryableError{
		message: "archive extraction exceeded iteration cap",
	}

	// ErrDuplicateFile indicates a file with the same name already exists
	// at the destination and was quarantined instead of overwritten.
	ErrDuplicateFile = &NonRetryableError{
		message: "duplicate file name at destination",
	}

	// ErrWrongFileType indicates a file's type is not one the data source
	// accepts and was quarantined rather than bundled.
	ErrWrongFileType = &NonRetryableError{
		message: "file type not accepted by data source",
	}
)
