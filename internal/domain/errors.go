package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed scope or keyword input.
	// It is raised at construction time and is never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable indicates that the store cannot be opened or its schema cannot be created.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrQueryNotFound indicates that no cached query record exists for a combination and year.
	// It is a cache-miss signal used to drive fetch decisions, not a failure.
	ErrQueryNotFound = errors.New("query not found")

	// ErrPartialWrite indicates that a multi-statement persistence operation failed partway.
	ErrPartialWrite = errors.New("partial write failure")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrRunnerBusy indicates that a pipeline run is already in progress.
	ErrRunnerBusy = errors.New("runner busy")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// StorageError describes a failed store operation together with the statement that failed.
type StorageError struct {
	Op        string
	Statement string
	Partial   bool
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("storage %s failed (%s): %v", e.Op, e.Statement, e.Cause)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
}

// Unwrap exposes both the taxonomy sentinel and the driver cause.
func (e *StorageError) Unwrap() []error {
	if e.Partial {
		return []error{ErrPartialWrite, e.Cause}
	}
	return []error{ErrStorageUnavailable, e.Cause}
}

// QueryNotFoundError is returned when a combination/year has no stored query record.
type QueryNotFoundError struct {
	Combination string
	Year        int
}

// Error implements the error interface.
func (e *QueryNotFoundError) Error() string {
	return fmt.Sprintf("no query record for %q in %d", e.Combination, e.Year)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *QueryNotFoundError) Unwrap() error {
	return ErrQueryNotFound
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewStorageError creates a StorageError for a failed statement.
func NewStorageError(op, statement string, cause error) *StorageError {
	return &StorageError{
		Op:        op,
		Statement: statement,
		Cause:     cause,
	}
}

// NewPartialWriteError creates a StorageError flagged as a partial write.
func NewPartialWriteError(op, statement string, cause error) *StorageError {
	return &StorageError{
		Op:        op,
		Statement: statement,
		Partial:   true,
		Cause:     cause,
	}
}

// NewQueryNotFoundError creates a new QueryNotFoundError.
func NewQueryNotFoundError(combination string, year int) *QueryNotFoundError {
	return &QueryNotFoundError{
		Combination: combination,
		Year:        year,
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
