package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/openclaw/devlink/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	status := statusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}

	WriteJSON(w, status, response)
}

// statusFromCode maps ErrorCode to HTTP status code
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeInvalidTransport,
		apperrors.ErrCodeInvalidOptions:
		return http.StatusBadRequest

	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	case apperrors.ErrCodeNotAuthorized:
		return http.StatusForbidden

	case apperrors.ErrCodeSessionNotFound,
		apperrors.ErrCodeDeviceNotFound:
		return http.StatusNotFound

	case apperrors.ErrCodeSessionAlreadyClaimed:
		return http.StatusConflict

	case apperrors.ErrCodeRateLimitExceeded,
		apperrors.ErrCodeTooManySessions:
		return http.StatusTooManyRequests

	case apperrors.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable

	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeCodeSpaceExhausted:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
