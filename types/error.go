package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the delegation runtime.
type ErrorCode string

// Boundary error codes
const (
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentExists        ErrorCode = "AGENT_EXISTS"
	ErrCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"
)

// Negotiation and execution error codes
const (
	ErrAdmissionRejected   ErrorCode = "ADMISSION_REJECTED"
	ErrInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrNotAccepted         ErrorCode = "NOT_ACCEPTED"
	ErrExecutionTimeout    ErrorCode = "EXECUTION_TIMEOUT"
	ErrExecutionFailure    ErrorCode = "EXECUTION_FAILURE"
	ErrNetwork             ErrorCode = "NETWORK_ERROR"
	ErrResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrShutdownInterrupt   ErrorCode = "SHUTDOWN_INTERRUPT"
)

// Telemetry error codes
const (
	ErrChainNotFound   ErrorCode = "CHAIN_NOT_FOUND"
	ErrSinkWriteFailed ErrorCode = "SINK_WRITE_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Attempts   int       `json:"attempts,omitempty"`
	Field      string    `json:"field,omitempty"`
	Cause      error     `json:"-"`
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

// NewValidationError creates a validation error for a single offending field.
func NewValidationError(field, format string, args ...any) *Error {
	return &Error{
		Code:    ErrValidation,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAttempts records how many attempts were made before the error surfaced.
func (e *Error) WithAttempts(attempts int) *Error {
	e.Attempts = attempts
	return e
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
