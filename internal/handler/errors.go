package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ApiError is the body of every error response.
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ApiErrorResponse struct {
	Error ApiError `json:"error"`
}

// newErrorResponse creates an ApiErrorResponse with the given code and message
func newErrorResponse(code, message string) ApiErrorResponse {
	return ApiErrorResponse{Error: ApiError{Code: code, Message: message}}
}

// Common error codes
const (
	ErrCodeInvalidJSON    = "INVALID_JSON"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUnknownMessage = "UNKNOWN_MESSAGE"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeTooLarge       = "REQUEST_TOO_LARGE"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, newErrorResponse(code, message))
}
