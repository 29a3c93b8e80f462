// Package errors provides error code definitions for the FieldSync engine.
// Expected sync outcomes (validation rejects, conflicts, transient faults)
// travel as coded AppErrors so callers never have to parse raw error text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorCode represents a unique, stable error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrInvalidTimestamp   ErrorCode = "INVALID_TIMESTAMP"
	ErrConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED"
	ErrTransientNetwork   ErrorCode = "TRANSIENT_NETWORK"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"
	ErrPermanentWrite     ErrorCode = "PERMANENT_WRITE"
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"
	ErrQuotaExhausted     ErrorCode = "QUOTA_EXHAUSTED"
	ErrCriticalSync       ErrorCode = "CRITICAL_SYNC"
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrOffline            ErrorCode = "OFFLINE"

	// Queue and checkpoint errors
	ErrQueueExhausted     ErrorCode = "QUEUE_RETRIES_EXHAUSTED"
	ErrCheckpointConflict ErrorCode = "CHECKPOINT_CONFLICT"
)

// AppError represents an engine error with a stable code and message.
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the error code from an error chain, or ErrInternal when the
// error carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsRetryable classifies an error for the retry executor and queue replay.
// Network timeouts, rate limiting and transient remote faults are retryable;
// authorization failures, malformed payloads and quota exhaustion need human
// or upstream correction and are not. Unclassified errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		switch appErr.Code {
		case ErrTransientNetwork, ErrRateLimited, ErrRemoteUnavailable:
			return true
		case ErrPermissionDenied, ErrMalformedPayload, ErrQuotaExhausted, ErrPermanentWrite:
			return false
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
