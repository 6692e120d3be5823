package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "Pairing session not found")
		assert.Equal(t, "SESSION_NOT_FOUND: Pairing session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrCodeStoreUnavailable, "Session store unavailable", cause)
		assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
		assert.Contains(t, err.Error(), "Session store unavailable")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"transport": "digital", "reason": "code too short"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"NotAuthorized", func() *AppError { return NotAuthorized("Device d1") }, ErrCodeNotAuthorized},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("code", "too short") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("code") }, ErrCodeMissingRequired},
		{"InvalidTransport", func() *AppError { return InvalidTransport("carrier-pigeon") }, ErrCodeInvalidTransport},
		{"InvalidOptions", func() *AppError { return InvalidOptions("ttl out of range") }, ErrCodeInvalidOptions},
		{"SessionNotFound", func() *AppError { return SessionNotFound() }, ErrCodeSessionNotFound},
		{"SessionAlreadyClaimed", func() *AppError { return SessionAlreadyClaimed() }, ErrCodeSessionAlreadyClaimed},
		{"DeviceNotFound", func() *AppError { return DeviceNotFound("d1") }, ErrCodeDeviceNotFound},
		{"TooManySessions", func() *AppError { return TooManySessions(5) }, ErrCodeTooManySessions},
		{"CodeSpaceExhausted", func() *AppError { return CodeSpaceExhausted() }, ErrCodeCodeSpaceExhausted},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	t.Run("wraps store error", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := StoreUnavailable(cause)
		assert.Equal(t, ErrCodeStoreUnavailable, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})

	t.Run("sees through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("claim failed: %w", SessionAlreadyClaimed())
		assert.True(t, IsAppError(err))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeDeviceNotFound, "Device d1 is not connected")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "test")
		assert.Equal(t, ErrCodeSessionNotFound, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestHasCode(t *testing.T) {
	t.Run("matches code on wrapped AppError", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", SessionNotFound())
		assert.True(t, HasCode(err, ErrCodeSessionNotFound))
		assert.False(t, HasCode(err, ErrCodeSessionAlreadyClaimed))
	})

	t.Run("false for standard error", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("nope"), ErrCodeInternal))
	})
}

func TestConstructorMessages(t *testing.T) {
	t.Run("DeviceNotFound names the device", func(t *testing.T) {
		err := DeviceNotFound("d1")
		assert.Contains(t, err.Message, "d1")
	})

	t.Run("TooManySessions names the limit", func(t *testing.T) {
		err := TooManySessions(5)
		assert.Contains(t, err.Message, "5")
	})

	t.Run("InvalidTransport names the transport", func(t *testing.T) {
		err := InvalidTransport("carrier-pigeon")
		assert.Contains(t, err.Message, "carrier-pigeon")
	})
}
