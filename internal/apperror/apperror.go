// Package apperror defines the error categories every layer returns.
//
// Callers branch on a category with errors.Is (e.g. errors.Is(err, ErrInference))
// and read details with errors.As into *AppError. The HTTP layer maps the
// categories to status codes in one place (handler/response.go).
package apperror

import (
	"errors"
	"fmt"

	"github.com/sakif/propability/internal/model"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrSubmissionInProgress = errors.New("submission in progress")
	ErrUpload               = errors.New("upload failure")
	ErrInference            = errors.New("inference failure")
	ErrPersist              = errors.New("persist failure")
	ErrRegistrySync         = errors.New("registry sync failure")
	ErrSuperseded           = errors.New("superseded")
)

type AppError struct {
	Err     error       // category sentinel
	Message string      // Human-readable error message
	Field   string      // Optional: field causing the error
	Stage   model.Stage // Optional: pipeline stage that failed
	Cause   error       // Optional: underlying error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the category and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned by protected operations invoked with no session.
func Unauthenticated(operation string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: fmt.Sprintf("%s requires a signed-in user", operation),
	}
}

// InvalidCredentials is returned by a sign-in whose email or password is
// wrong. It does not say which.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "Invalid login credentials",
	}
}

func SubmissionInProgress() *AppError {
	return &AppError{
		Err:     ErrSubmissionInProgress,
		Message: "a submission is already in progress",
	}
}

// Superseded is returned by a run whose job was reset while it was in flight.
// Its result was discarded.
func Superseded() *AppError {
	return &AppError{
		Err:     ErrSuperseded,
		Message: "the submission was reset before it finished",
	}
}

// StageFailed reports a pipeline failure at the given stage. The category is
// chosen from the stage so callers can offer a precise retry.
func StageFailed(stage model.Stage, cause error) *AppError {
	var category error
	var msg string
	switch stage {
	case model.StageUploading:
		category, msg = ErrUpload, "uploading image failed"
	case model.StageAnalyzing:
		category, msg = ErrInference, "analyzing image failed"
	default:
		category, msg = ErrPersist, "saving results failed"
	}
	return &AppError{
		Err:     category,
		Message: msg,
		Stage:   stage,
		Cause:   cause,
	}
}

// SyncFailed wraps a record store failure raised by a registry operation.
func SyncFailed(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrRegistrySync,
		Message: fmt.Sprintf("%s failed", operation),
		Cause:   cause,
	}
}

// StageOf returns the failed pipeline stage carried by err, if any.
func StageOf(err error) (model.Stage, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Stage != "" {
		return appErr.Stage, true
	}
	return "", false
}
