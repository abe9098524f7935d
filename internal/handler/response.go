package handler

// RESPONSE HELPERS:
// Every error response from the API has the same shape:
//   {"error": "not_found", "message": "cutting not found with id abc123"}
//
// Pipeline failures also carry the stage that failed so the client can
// offer a precise retry:
//   {"error": "inference_failed", "message": "...", "stage": "analyzing"}

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
)

// maxJSONBody caps JSON request bodies. Nicknames and feedback are tiny.
const maxJSONBody = 64 << 10

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string      `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string      `json:"message"`         // Human-readable description
	Field   string      `json:"field,omitempty"` // Input that failed validation
	Stage   model.Stage `json:"stage,omitempty"` // Pipeline stage that failed
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be written BEFORE the body; once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// The service layer never knows about status codes. errors.Is walks the
// whole chain, and AppError unwraps to both its category and its cause, so
// a wrapped StageFailed(analyzing, timeout) still matches ErrInference.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Never expose raw internal errors: they may carry SQL or file paths.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := classify(err)
	resp := ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
		Stage:   appErr.Stage,
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrSubmissionInProgress):
		return http.StatusConflict, "submission_in_progress"
	case errors.Is(err, apperror.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, apperror.ErrUpload):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, apperror.ErrInference):
		return http.StatusBadGateway, "inference_failed"
	case errors.Is(err, apperror.ErrPersist):
		return http.StatusBadGateway, "persist_failed"
	case errors.Is(err, apperror.ErrRegistrySync):
		return http.StatusBadGateway, "sync_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields and
// oversized payloads with a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is empty")
		}
		return apperror.ValidationFailed("body", "invalid JSON in request body")
	}
	return nil
}
