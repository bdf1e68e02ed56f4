// Package queue implements the task queue engine: enqueueing generation
// requests, exposing their lifecycle, queue position and ETA estimates, and
// the cancel/retry operations.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/store"
)

// Engine owns task lifecycle operations that are not driven by workers.
type Engine struct {
	tasks  store.TaskStore
	logger *slog.Logger

	// workers is the dispatch concurrency, used for ETA estimation: tasks
	// ahead in the queue drain roughly workers at a time.
	workers          int
	completionWindow int
}

// NewEngine creates a task queue engine.
func NewEngine(tasks store.TaskStore, workers, completionWindow int, logger *slog.Logger) *Engine {
	return &Engine{
		tasks:            tasks,
		logger:           logger.With(slog.String("component", "queue")),
		workers:          workers,
		completionWindow: completionWindow,
	}
}

// EnqueueParams are the caller-supplied fields of a new task. Zero values
// select the documented defaults.
type EnqueueParams struct {
	Model          string
	Prompt         string
	DurationSecs   int
	AspectRatio    string
	OwnerReference string
}

// TaskView is a task together with its queue placement. Position and ETA
// are only set while the task is queued.
type TaskView struct {
	Task          *domain.Task
	QueuePosition int            // 1-based; 0 when not queued
	QueueETA      *time.Duration // nil when not queued or no history
}

// Enqueue validates and persists a new task in the queued status.
func (e *Engine) Enqueue(ctx context.Context, params EnqueueParams) (*domain.Task, error) {
	task, err := domain.NewTask(params.Model, params.Prompt, params.DurationSecs, params.AspectRatio, params.OwnerReference)
	if err != nil {
		return nil, err
	}
	if err := e.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	e.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("model", task.Model),
		slog.Int("duration_secs", task.DurationSecs))
	return task, nil
}

// Get returns one task with its queue placement.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*TaskView, error) {
	task, err := e.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &TaskView{Task: task}
	if task.Status != domain.TaskStatusQueued {
		return view, nil
	}

	ahead, err := e.tasks.CountQueuedBefore(ctx, task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue position: %w", err)
	}
	view.QueuePosition = ahead + 1

	avg, err := e.tasks.AverageCompletion(ctx, task.Model, e.completionWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to compute completion average: %w", err)
	}
	if avg > 0 {
		// Tasks drain roughly `workers` at a time, so a task at position p
		// waits about ceil(p / workers) completion rounds.
		rounds := (view.QueuePosition + e.workers - 1) / e.workers
		eta := avg * time.Duration(rounds)
		view.QueueETA = &eta
	}
	return view, nil
}

// List returns tasks newest-first. An empty status returns all tasks;
// limit <= 0 applies no limit.
func (e *Engine) List(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTaskStatus, status)
	}
	return e.tasks.ListTasks(ctx, status, limit)
}

// Cancel marks a task cancelled. Works from any non-terminal status; the
// worker driving it observes the transition conflict on its next write and
// abandons the task.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := e.tasks.CancelTask(ctx, id); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "task cancelled", slog.String("task_id", id.String()))
	return e.tasks.GetTask(ctx, id)
}

// Retry returns a terminal task to the back of the queue with its error
// state cleared and retry_count incremented.
func (e *Engine) Retry(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := e.tasks.RetryTask(ctx, id); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "task requeued for retry", slog.String("task_id", id.String()))
	return e.tasks.GetTask(ctx, id)
}

// Stats returns aggregate task counts by status.
func (e *Engine) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return e.tasks.CountTasksByStatus(ctx)
}
