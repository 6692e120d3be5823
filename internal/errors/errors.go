package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"

	// Validation
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidTransport ErrorCode = "INVALID_TRANSPORT"
	ErrCodeInvalidOptions   ErrorCode = "INVALID_OPTIONS"

	// Pairing lifecycle
	ErrCodeSessionNotFound       ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionAlreadyClaimed ErrorCode = "SESSION_ALREADY_CLAIMED"
	ErrCodeDeviceNotFound        ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeTooManySessions       ErrorCode = "TOO_MANY_SESSIONS"
	ErrCodeCodeSpaceExhausted    ErrorCode = "CODE_SPACE_EXHAUSTED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotAuthorized(resource string) *AppError {
	return New(ErrCodeNotAuthorized, fmt.Sprintf("%s belongs to a different user", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidTransport(transport string) *AppError {
	return New(ErrCodeInvalidTransport, fmt.Sprintf("Unknown transport: %s", transport))
}

func InvalidOptions(reason string) *AppError {
	return New(ErrCodeInvalidOptions, fmt.Sprintf("Invalid pairing options: %s", reason))
}

func SessionNotFound() *AppError {
	return New(ErrCodeSessionNotFound, "Pairing session not found, expired, or already used")
}

func SessionAlreadyClaimed() *AppError {
	return New(ErrCodeSessionAlreadyClaimed, "Pairing session was already claimed by another device")
}

func DeviceNotFound(deviceID string) *AppError {
	return New(ErrCodeDeviceNotFound, fmt.Sprintf("Device %s is not connected to this account", deviceID))
}

func TooManySessions(limit int) *AppError {
	return New(ErrCodeTooManySessions, fmt.Sprintf("Maximum active pairing sessions (%d) reached", limit))
}

func CodeSpaceExhausted() *AppError {
	return New(ErrCodeCodeSpaceExhausted, "Could not generate a unique pairing code, retry later")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func StoreUnavailable(cause error) *AppError {
	return Wrap(ErrCodeStoreUnavailable, "Session store unavailable", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
