package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the memory substrate.
type ErrorCode string

const (
	// ErrValidation indicates a malformed payload, rejected before any backend call.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrScopeDenied indicates missing or insufficient tenancy context,
	// rejected before any backend call.
	ErrScopeDenied ErrorCode = "SCOPE_DENIED"
	// ErrBackendUnavailable indicates a required backend timed out or errored.
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrConflict indicates an optimistic-version mismatch on update.
	// Callers should retry with fresh data.
	ErrConflict ErrorCode = "CONFLICT"
	// ErrNotFound indicates a referenced packet, reflection, or feedback
	// event does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrInternal indicates an unexpected failure in the substrate itself.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Backend   string    `json:"backend,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend records which backend produced the error.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrNotFound }

// IsConflict reports whether err carries the CONFLICT code.
func IsConflict(err error) bool { return GetErrorCode(err) == ErrConflict }

// IsScopeDenied reports whether err carries the SCOPE_DENIED code.
func IsScopeDenied(err error) bool { return GetErrorCode(err) == ErrScopeDenied }

// IsValidation reports whether err carries the VALIDATION code.
func IsValidation(err error) bool { return GetErrorCode(err) == ErrValidation }

// IsBackendUnavailable reports whether err carries the BACKEND_UNAVAILABLE code.
func IsBackendUnavailable(err error) bool {
	return GetErrorCode(err) == ErrBackendUnavailable
}
