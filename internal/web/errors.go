package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. The status code is derived from the error chain
//  4. Error is mapped via core.MapError to get a user-friendly message
//  5. Technical error + context is logged with request ID for correlation

import (
	"context"
	"errors"
	"net/http"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`

	// Rollback is the partial outcome of a rollback that could not remove
	// every expense. The same token can be retried.
	Rollback *core.RollbackResult `json:"rollback,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var verr core.ValidationError
	var rerr *core.RollbackError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUploadNotFound), errors.Is(err, core.ErrManifestNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAlreadyImported), errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes the coded user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	respondErrorStatus(w, r, err, status)
}

func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	writeJSON(w, status, errorResponse(w, r, err, status))
}

// errorResponse logs err and builds its coded body.
func errorResponse(w http.ResponseWriter, r *http.Request, err error, status int) ErrorResponse {
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Warn("request rejected", args...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}
