package api

import (
	"time"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/queue"
)

// CreateTaskRequest is the payload for creating a generation task. Model,
// duration and aspect ratio fall back to server defaults when omitted.
type CreateTaskRequest struct {
	Prompt       string `json:"prompt"        validate:"required,max=4000"`
	Model        string `json:"model"         validate:"omitempty,max=128"`
	DurationSecs int    `json:"duration_secs" validate:"omitempty,gt=0,lte=60"`
	AspectRatio  string `json:"aspect_ratio"  validate:"omitempty,oneof=16:9 9:16 1:1 4:3 3:4 21:9"`
}

// TaskResponse is the task representation returned by the API.
type TaskResponse struct {
	ID             uuid.UUID  `json:"id"`
	Status         string     `json:"status"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	DurationSecs   int        `json:"duration_secs"`
	AspectRatio    string     `json:"aspect_ratio"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
	VideoURL       string     `json:"video_url,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
	OwnerReference string     `json:"owner_reference,omitempty"`
	QueuePosition  int        `json:"queue_position,omitempty"`
	QueueETASecs   int        `json:"queue_eta_secs,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// NewTaskResponse converts a domain task to its API representation.
func NewTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:             task.ID,
		Status:         string(task.Status),
		Model:          task.Model,
		Prompt:         task.Prompt,
		DurationSecs:   task.DurationSecs,
		AspectRatio:    task.AspectRatio,
		SessionID:      task.SessionID,
		VideoURL:       task.VideoURL,
		ErrorKind:      task.ErrorKind,
		ErrorMessage:   task.ErrorMessage,
		RetryCount:     task.RetryCount,
		OwnerReference: task.OwnerReference,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		StartedAt:      task.StartedAt,
		FinishedAt:     task.FinishedAt,
	}
}

// NewTaskViewResponse converts a task with queue placement.
func NewTaskViewResponse(view *queue.TaskView) TaskResponse {
	resp := NewTaskResponse(view.Task)
	resp.QueuePosition = view.QueuePosition
	if view.QueueETA != nil {
		resp.QueueETASecs = int(view.QueueETA.Seconds())
	}
	return resp
}

// CreateSessionRequest is the payload for registering a pooled session.
// Capacity falls back to the configured default when omitted.
type CreateSessionRequest struct {
	Label      string `json:"label"      validate:"omitempty,max=128"`
	Credential string `json:"credential" validate:"required"`
	Capacity   int    `json:"capacity"   validate:"omitempty,gt=0,lte=64"`
}

// UpdateSessionRequest toggles a session's enabled flag.
type UpdateSessionRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SessionResponse is the session representation returned by the API. The
// credential is always masked.
type SessionResponse struct {
	ID           uuid.UUID  `json:"id"`
	Label        string     `json:"label,omitempty"`
	Credential   string     `json:"credential"`
	Enabled      bool       `json:"enabled"`
	Healthy      bool       `json:"healthy"`
	ActiveTasks  int        `json:"active_tasks"`
	Capacity     int        `json:"capacity"`
	TotalTasks   int        `json:"total_tasks"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
	LastError    string     `json:"last_error,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewSessionResponse converts a domain session to its API representation,
// masking the credential.
func NewSessionResponse(session *domain.Session) SessionResponse {
	return SessionResponse{
		ID:           session.ID,
		Label:        session.Label,
		Credential:   session.MaskedCredential(),
		Enabled:      session.Enabled,
		Healthy:      session.Healthy,
		ActiveTasks:  session.ActiveTasks,
		Capacity:     session.Capacity,
		TotalTasks:   session.TotalTasks,
		SuccessCount: session.SuccessCount,
		FailCount:    session.FailCount,
		LastError:    session.LastError,
		LastUsedAt:   session.LastUsedAt,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}

// StatsResponse aggregates task counts by status.
type StatsResponse struct {
	Tasks map[string]int `json:"tasks"`
	Total int            `json:"total"`
}

// GenerationRequest is the compatibility payload accepted on the legacy
// videos/generations endpoint.
type GenerationRequest struct {
	Prompt      string `json:"prompt"       validate:"required,max=4000"`
	Model       string `json:"model"        validate:"omitempty,max=128"`
	Duration    int    `json:"duration"     validate:"omitempty,gt=0,lte=60"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16 1:1 4:3 3:4 21:9"`
}
