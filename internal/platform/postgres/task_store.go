package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/platform/logger"
	"vidgateway/internal/store"
)

// TaskStore implements store.TaskStore using PostgreSQL. All status writes
// that can race with cancellation carry the expected prior status in the
// WHERE clause, so a stale worker can never overwrite a terminal state.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

var _ store.TaskStore = (*TaskStore)(nil)

const taskColumns = `id, status, model, prompt, duration_secs, aspect_ratio, session_id,
	remote_id, video_url, error_kind, error_message, retry_count, owner_reference,
	created_at, updated_at, started_at, finished_at`

func scanTask(row interface{ Scan(dest ...any) error }) (*domain.Task, error) {
	var t domain.Task
	var sessionID uuid.NullUUID
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Status, &t.Model, &t.Prompt, &t.DurationSecs, &t.AspectRatio, &sessionID,
		&t.RemoteID, &t.VideoURL, &t.ErrorKind, &t.ErrorMessage, &t.RetryCount, &t.OwnerReference,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		id := sessionID.UUID
		t.SessionID = &id
	}
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := finishedAt.Time
		t.FinishedAt = &ts
	}
	return &t, nil
}

// CreateTask persists a new queued task.
func (s *TaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, status, model, prompt, duration_secs, aspect_ratio,
			remote_id, video_url, error_kind, error_message, retry_count, owner_reference,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.Status, task.Model, task.Prompt, task.DurationSecs, task.AspectRatio,
		task.RemoteID, task.VideoURL, task.ErrorKind, task.ErrorMessage, task.RetryCount,
		task.OwnerReference, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to create task", "task_id", task.ID, "error", err)
		return store.NewStoreError("task", "create", "insert failed", err)
	}
	return nil
}

// GetTask returns a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to get task", "task_id", id, "error", err)
		return nil, store.NewStoreError("task", "get", "query failed", err)
	}
	return task, nil
}

// ListTasks returns tasks newest-first, optionally filtered by status.
func (s *TaskStore) ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	var query string
	var args []any
	// NULLIF turns a zero limit into LIMIT NULL, i.e. no limit.
	if status != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)`
		args = []any{status, limit}
	} else {
		query = `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC LIMIT NULLIF($1, 0)`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to list tasks", "status", status, "error", err)
		return nil, store.NewStoreError("task", "list", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "scan failed", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "row iteration failed", err)
	}
	return tasks, nil
}

// ClaimNextQueued atomically claims the oldest queued task for a session.
func (s *TaskStore) ClaimNextQueued(ctx context.Context, sessionID uuid.UUID) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $2, session_id = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		sessionID, domain.TaskStatusSubmitting, domain.TaskStatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoTaskQueued
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to claim queued task", "error", err)
		return nil, store.NewStoreError("task", "claim", "claim failed", err)
	}
	return task, nil
}

// TransitionTask applies a conditional status transition.
func (s *TaskStore) TransitionTask(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, update store.TaskUpdate) error {
	if !domain.CanTransition(from, to) {
		return store.NewStoreError("task", "transition", "unmodeled transition", domain.ErrInvalidTransition)
	}

	query := `
		UPDATE tasks
		SET status = $3,
			remote_id = COALESCE($4, remote_id),
			video_url = COALESCE($5, video_url),
			error_kind = COALESCE($6, error_kind),
			error_message = COALESCE($7, error_message),
			session_id = CASE WHEN $8 THEN NULL ELSE session_id END,
			finished_at = CASE WHEN $8 THEN NOW() ELSE finished_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := s.db.ExecContext(ctx, query,
		id, from, to,
		update.RemoteID, update.VideoURL, update.ErrorKind, update.ErrorMessage,
		to.IsTerminal(),
	)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to transition task",
			"task_id", id, "from", from, "to", to, "error", err)
		return store.NewStoreError("task", "transition", "update failed", err)
	}
	return s.conflictOrMissing(ctx, id, result, store.ErrTransitionConflict)
}

// CancelTask marks a non-terminal task cancelled.
func (s *TaskStore) CancelTask(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = $2, session_id = NULL, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($3, $4, $5)
	`
	result, err := s.db.ExecContext(ctx, query, id, domain.TaskStatusCancelled,
		domain.TaskStatusSucceeded, domain.TaskStatusFailed, domain.TaskStatusCancelled)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to cancel task", "task_id", id, "error", err)
		return store.NewStoreError("task", "cancel", "update failed", err)
	}
	return s.conflictOrMissing(ctx, id, result, domain.ErrTaskAlreadyFinal)
}

// RetryTask returns a terminal task to the queue for a fresh attempt.
func (s *TaskStore) RetryTask(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = $2, session_id = NULL, remote_id = '', video_url = '',
			error_kind = '', error_message = '', retry_count = retry_count + 1,
			started_at = NULL, finished_at = NULL, created_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4, $5)
	`
	result, err := s.db.ExecContext(ctx, query, id, domain.TaskStatusQueued,
		domain.TaskStatusSucceeded, domain.TaskStatusFailed, domain.TaskStatusCancelled)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to retry task", "task_id", id, "error", err)
		return store.NewStoreError("task", "retry", "update failed", err)
	}
	return s.conflictOrMissing(ctx, id, result, domain.ErrTaskNotRetriable)
}

// conflictOrMissing resolves a zero-row conditional update into either a
// not-found error or the given lifecycle-conflict error.
func (s *TaskStore) conflictOrMissing(ctx context.Context, id uuid.UUID, result sql.Result, conflict error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "update", "rows affected failed", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	return conflict
}

// CountQueuedBefore returns how many queued tasks predate the given instant.
func (s *TaskStore) CountQueuedBefore(ctx context.Context, createdAt time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE status = $1 AND created_at < $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, domain.TaskStatusQueued, createdAt).Scan(&count)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to count queued tasks", "error", err)
		return 0, store.NewStoreError("task", "queue_position", "query failed", err)
	}
	return count, nil
}

// CountTasksByStatus returns aggregate counts keyed by status.
func (s *TaskStore) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to count tasks by status", "error", err)
		return nil, store.NewStoreError("task", "stats", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, store.NewStoreError("task", "stats", "scan failed", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "stats", "row iteration failed", err)
	}
	return counts, nil
}

// AverageCompletion returns the mean completion time over recent successes.
func (s *TaskStore) AverageCompletion(ctx context.Context, model string, lastN int) (time.Duration, error) {
	query := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at))), 0)
		FROM (
			SELECT started_at, finished_at FROM tasks
			WHERE status = $1 AND model = $2 AND started_at IS NOT NULL AND finished_at IS NOT NULL
			ORDER BY finished_at DESC
			LIMIT $3
		) recent
	`
	var seconds float64
	err := s.db.QueryRowContext(ctx, query, domain.TaskStatusSucceeded, model, lastN).Scan(&seconds)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to compute average completion", "model", model, "error", err)
		return 0, store.NewStoreError("task", "average_completion", "query failed", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// RequeueStaleTasks requeues active tasks whose last update is too old.
func (s *TaskStore) RequeueStaleTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE tasks
		SET status = $1, session_id = NULL, started_at = NULL, updated_at = NOW()
		WHERE status IN ($2, $3, $4) AND updated_at < $5
	`
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, query, domain.TaskStatusQueued,
		domain.TaskStatusSubmitting, domain.TaskStatusPolling, domain.TaskStatusDownloading, cutoff)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to requeue stale tasks", "error", err)
		return 0, store.NewStoreError("task", "requeue_stale", "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("task", "requeue_stale", "rows affected failed", err)
	}
	return int(affected), nil
}
