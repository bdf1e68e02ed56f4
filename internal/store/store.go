package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
)

// ReleaseOutcome describes how a session reservation ended.
type ReleaseOutcome int

const (
	// ReleaseSuccess counts a successful task completion.
	ReleaseSuccess ReleaseOutcome = iota
	// ReleaseFailure counts a failed task completion.
	ReleaseFailure
	// ReleaseAborted frees the reservation without counting an outcome.
	// Used when no task ran on the reservation (claim lost a race) or the
	// task was cancelled out from under the worker.
	ReleaseAborted
)

// TaskUpdate carries the optional field changes applied alongside a status
// transition. Nil pointers leave the column untouched.
type TaskUpdate struct {
	RemoteID     *string
	VideoURL     *string
	ErrorKind    *string
	ErrorMessage *string
}

// SessionStore defines persistence for pooled sessions. Reserve and Release
// are the only operations allowed to touch active_tasks and last_used_at,
// and both must be single atomic conditional mutations: a separate read
// followed by a separate write will over-commit capacity under concurrency.
type SessionStore interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession returns a session by ID, or ErrSessionNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// ListSessions returns all sessions ordered by creation time.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// DeleteSession removes a session. Unless force is set, it returns
	// domain.ErrSessionBusy while the session has active reservations.
	DeleteSession(ctx context.Context, id uuid.UUID, force bool) error

	// SetSessionEnabled flips the admin toggle. Re-enabling also restores
	// the healthy flag so the session becomes reservable again.
	SetSessionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	// SetSessionHealthy sets the probe-derived health flag. A non-empty
	// lastError is recorded alongside it.
	SetSessionHealthy(ctx context.Context, id uuid.UUID, healthy bool, lastError string) error

	// ReserveSession atomically claims one unit of capacity on the eligible
	// session with the least recent last_used_at (never-used first, ties by
	// lowest ID), incrementing active_tasks and refreshing last_used_at in
	// the same step. Returns ErrNoSessionAvailable when nothing is eligible.
	ReserveSession(ctx context.Context) (*domain.Session, error)

	// ReleaseSession decrements active_tasks (clamped at zero) and, for
	// Success/Failure outcomes, increments exactly one result counter and
	// total_tasks. lastError is recorded when non-empty.
	ReleaseSession(ctx context.Context, id uuid.UUID, outcome ReleaseOutcome, lastError string) error

	// ResetActiveSessions zeroes active_tasks on every session. Crash
	// recovery only: reservations held by a dead process are meaningless.
	ResetActiveSessions(ctx context.Context) (int, error)
}

// TaskStore defines persistence for generation tasks. Every status write
// that can race with cancellation is expressed as a conditional mutation
// keyed on the expected prior status.
type TaskStore interface {
	// CreateTask persists a new queued task.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask returns a task by ID, or ErrTaskNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks returns tasks newest-first, optionally filtered by status.
	ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)

	// ClaimNextQueued atomically claims the oldest queued task for the given
	// session: status moves to submitting, session_id is bound and
	// started_at set, all in one step. Returns ErrNoTaskQueued when the
	// queue is empty.
	ClaimNextQueued(ctx context.Context, sessionID uuid.UUID) (*domain.Task, error)

	// TransitionTask moves a task from an expected status to the next one,
	// applying the update. Terminal targets clear session_id and set
	// finished_at. Returns ErrTransitionConflict if the task is no longer in
	// the expected status, so a completion write can never overwrite a
	// concurrent cancellation.
	TransitionTask(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, update TaskUpdate) error

	// CancelTask marks a non-terminal task cancelled, clearing its
	// session_id. Returns domain.ErrTaskAlreadyFinal if already terminal.
	CancelTask(ctx context.Context, id uuid.UUID) error

	// RetryTask moves a terminal task back to queued, clearing error fields,
	// results and session binding, and incrementing retry_count. Returns
	// domain.ErrTaskNotRetriable if the task is not terminal.
	RetryTask(ctx context.Context, id uuid.UUID) error

	// CountQueuedBefore returns how many queued tasks were created strictly
	// before the given instant.
	CountQueuedBefore(ctx context.Context, createdAt time.Time) (int, error)

	// CountTasksByStatus returns aggregate task counts keyed by status.
	CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// AverageCompletion returns the mean started-to-finished duration over
	// the most recent succeeded tasks for a model, at most lastN of them.
	// Returns zero when no history exists.
	AverageCompletion(ctx context.Context, model string, lastN int) (time.Duration, error)

	// RequeueStaleTasks returns tasks stuck in an active status with no
	// worker driving them (updated_at older than the threshold) to queued,
	// clearing session_id. Returns the number of tasks requeued.
	RequeueStaleTasks(ctx context.Context, olderThan time.Duration) (int, error)
}
