// Package api provides the HTTP handlers and error plumbing for the Vigil API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vigil-app/vigil/internal/middleware"
)

// Error codes returned in the error body. Clients switch on these, so
// they are part of the wire contract.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuthFailed  = "auth_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeBadRequest  = "bad_request"

	// Domain-specific codes.
	ErrCodeInvalidCoordinates = "invalid_coordinates"
	ErrCodeInvalidRadius      = "invalid_radius"
	ErrCodeInvalidReportType  = "invalid_report_type"
	ErrCodeInvalidStatus      = "invalid_status"
	ErrCodeReportNotFound     = "report_not_found"
	ErrCodeContactNotFound    = "contact_not_found"
)

// ErrorResponse is the body of every non-2xx API response:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the standard JSON error body with the given status.
//
// Pass a ctx that has been through middleware.SetErrorCode so the access
// log picks up the code; WriteError forwards it to the response writer
// for the logging middleware.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	body, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

var statusByCode = map[string]int{
	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeAuthFailed:  http.StatusUnauthorized,
	ErrCodeNotFound:    http.StatusNotFound,
	ErrCodeRateLimited: http.StatusTooManyRequests,
	ErrCodeForbidden:   http.StatusForbidden,
	ErrCodeConflict:    http.StatusConflict,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInternal:    http.StatusInternalServerError,
}

// StatusCodeMapping maps an error code to its usual HTTP status.
// Unknown codes map to 500.
func StatusCodeMapping(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
