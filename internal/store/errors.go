package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. This is the generic version of the entity-specific not found
	// errors below.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrNoSessionAvailable is returned by ReserveSession when no session is
	// enabled, healthy and below capacity. Callers back off rather than
	// busy-loop on it.
	ErrNoSessionAvailable = errors.New("no session available")

	// ErrNoTaskQueued is returned by ClaimNextQueued when the queue is empty.
	ErrNoTaskQueued = errors.New("no task queued")

	// ErrTransitionConflict is returned when a conditional status write finds
	// the task no longer in the expected status. The write loses; the current
	// status stands.
	ErrTransitionConflict = errors.New("task status transition conflict")

	// Entity-specific "not found" errors

	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)

	// ErrTaskNotFound indicates that the requested task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError is a custom error type for store-specific errors with
// additional context. Persistence failures must never be silently
// discarded; wrap them so callers can log the operation that failed.
type StoreError struct {
	Entity    string // The entity type (e.g., "session", "task")
	Operation string // The operation that failed (e.g., "reserve", "transition")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation,
// message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
