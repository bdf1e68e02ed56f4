package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusSubmitting  TaskStatus = "submitting"
	TaskStatusPolling     TaskStatus = "polling"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusSucceeded   TaskStatus = "succeeded"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskPrompt    = errors.New("task prompt cannot be empty")
	ErrEmptyTaskModel     = errors.New("task model cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidTransition  = errors.New("invalid task status transition")
	ErrTaskAlreadyFinal   = errors.New("task is already in a terminal status")
	ErrTaskNotRetriable   = errors.New("only terminal tasks can be retried")
	ErrInvalidDuration    = errors.New("task duration must be positive")
	ErrInvalidAspectRatio = errors.New("invalid aspect ratio")
)

// taskTransitions is the exhaustive transition table for the task state
// machine. A transition not listed here is rejected at the boundary rather
// than silently allowed. Cancellation from non-terminal states and retry
// from terminal states are handled by CanCancel/CanRetry since they apply
// uniformly to whole classes of states.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:      {TaskStatusSubmitting},
	TaskStatusSubmitting:  {TaskStatusPolling, TaskStatusFailed},
	TaskStatusPolling:     {TaskStatusPolling, TaskStatusDownloading, TaskStatusFailed},
	TaskStatusDownloading: {TaskStatusSucceeded, TaskStatusFailed},
	TaskStatusSucceeded:   {},
	TaskStatusFailed:      {},
	TaskStatusCancelled:   {},
}

// IsValid reports whether the status is one of the modeled values.
func (s TaskStatus) IsValid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// IsTerminal reports whether the status is a final outcome.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a task in this status holds a session reservation.
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusSubmitting, TaskStatusPolling, TaskStatusDownloading:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another is allowed
// by the state machine. Cancel and retry are modeled separately.
func CanTransition(from, to TaskStatus) bool {
	if to == TaskStatusCancelled {
		return !from.IsTerminal()
	}
	if to == TaskStatusQueued {
		return from.IsTerminal()
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task represents one video generation job flowing through the gateway.
// SessionID is non-nil exactly while the task holds a session reservation
// (submitting, polling, downloading).
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Status         TaskStatus `json:"status"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	DurationSecs   int        `json:"duration_secs"`
	AspectRatio    string     `json:"aspect_ratio"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
	RemoteID       string     `json:"remote_id,omitempty"`
	VideoURL       string     `json:"video_url,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
	OwnerReference string     `json:"owner_reference,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Default generation parameters applied when a request omits them.
const (
	DefaultModel        = "video-standard-2.0"
	DefaultDurationSecs = 4
	DefaultAspectRatio  = "9:16"
)

// validAspectRatios is the set of frame shapes the upstream provider renders.
var validAspectRatios = map[string]struct{}{
	"16:9": {},
	"9:16": {},
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"21:9": {},
}

// NewTask creates a queued Task with the given parameters, applying defaults
// for any empty optional field. Returns an error if validation fails.
func NewTask(model, prompt string, durationSecs int, aspectRatio, ownerRef string) (*Task, error) {
	if model == "" {
		model = DefaultModel
	}
	if durationSecs == 0 {
		durationSecs = DefaultDurationSecs
	}
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}

	now := time.Now().UTC()
	task := &Task{
		ID:             uuid.New(),
		Status:         TaskStatusQueued,
		Model:          model,
		Prompt:         prompt,
		DurationSecs:   durationSecs,
		AspectRatio:    aspectRatio,
		OwnerReference: ownerRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Prompt == "" {
		return ErrEmptyTaskPrompt
	}
	if t.Model == "" {
		return ErrEmptyTaskModel
	}
	if t.DurationSecs <= 0 {
		return ErrInvalidDuration
	}
	if _, ok := validAspectRatios[t.AspectRatio]; !ok {
		return ErrInvalidAspectRatio
	}
	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}
	return nil
}
