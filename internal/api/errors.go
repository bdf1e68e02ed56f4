package api

import (
	"errors"
	"net/http"
	"strings"

	"vidgateway/internal/domain"
	"vidgateway/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Lifecycle conflicts: cancel on a finished task, retry on a running
	// one, delete on a busy session.
	case errors.Is(err, store.ErrTransitionConflict),
		errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrTaskAlreadyFinal),
		errors.Is(err, domain.ErrTaskNotRetriable):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrEmptyTaskPrompt),
		errors.Is(err, domain.ErrEmptyTaskModel),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidAspectRatio),
		errors.Is(err, domain.ErrInvalidTaskStatus),
		errors.Is(err, domain.ErrEmptySessionCredential),
		errors.Is(err, domain.ErrInvalidSessionCapacity),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrSessionNotFound):
		return "Session not found"

	case errors.Is(err, store.ErrTransitionConflict):
		return "Task is not in a state that allows this operation"

	case errors.Is(err, domain.ErrTaskAlreadyFinal):
		return "Task has already finished"

	case errors.Is(err, domain.ErrTaskNotRetriable):
		return "Only finished tasks can be retried"

	case errors.Is(err, domain.ErrSessionBusy):
		return "Session has active tasks; disable it or use force"

	case errors.Is(err, domain.ErrEmptyTaskPrompt):
		return "Prompt is required"

	case errors.Is(err, domain.ErrInvalidDuration):
		return "Duration must be positive"

	case errors.Is(err, domain.ErrInvalidAspectRatio):
		return "Invalid aspect ratio"

	case errors.Is(err, domain.ErrInvalidTaskStatus):
		return "Invalid task status"

	case errors.Is(err, domain.ErrEmptySessionCredential):
		return "Session credential is required"

	case errors.Is(err, domain.ErrInvalidSessionCapacity):
		return "Session capacity must be positive"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'CreateTaskRequest.Prompt' Error:Field
		// validation for 'Prompt' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				if len(fieldParts) >= 5 {
					return "Invalid " + field + ": " + getValidationTagMessage(fieldParts[3])
				}
				return "Invalid " + field
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too small"
	case "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
