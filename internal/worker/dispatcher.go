// Package worker contains the dispatch loop that pairs queued tasks with
// pooled sessions and drives them through the generation pipeline, plus the
// crash recovery pass that runs before dispatch starts.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vidgateway/internal/pool"
	"vidgateway/internal/provider"
	"vidgateway/internal/store"
)

// Config carries the dispatch loop tuning knobs.
type Config struct {
	// Concurrency is the number of parallel workers.
	Concurrency int

	// ClaimBackoff is how long an idle worker sleeps when there is no
	// eligible session or no queued task.
	ClaimBackoff time.Duration

	// SubmitRetries bounds retries of transient submit failures.
	SubmitRetries int

	// PollInterval is the delay between status polls.
	PollInterval time.Duration

	// MaxPollDuration bounds total polling time per task.
	MaxPollDuration time.Duration

	// StaleTaskAge is the updated_at age past which an active task is
	// considered abandoned and requeued.
	StaleTaskAge time.Duration
}

// Dispatcher runs the worker loop. Each worker reserves a session first and
// only then claims a task: the claim binds the session and moves the task to
// submitting in one atomic step, so a task is never in an active status
// without a session attached.
type Dispatcher struct {
	tasks    store.TaskStore
	pool     *pool.Manager
	pipeline *Pipeline
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates the worker dispatcher.
func NewDispatcher(tasks store.TaskStore, sessionPool *pool.Manager, generator provider.VideoGenerator, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:    tasks,
		pool:     sessionPool,
		pipeline: NewPipeline(tasks, sessionPool, generator, cfg, logger),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Run starts the configured number of workers and a periodic stale-task
// sweep, blocking until the context is cancelled and all workers exit.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.InfoContext(ctx, "dispatcher starting",
		slog.Int("concurrency", d.cfg.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.runWorker(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runStaleSweep(ctx)
	}()

	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	log := d.logger.With(slog.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		if !d.runOnce(ctx, log) {
			if !sleepCtx(ctx, d.cfg.ClaimBackoff) {
				return
			}
		}
	}
}

// runOnce attempts one reserve-claim-run cycle. It reports whether a task
// was actually driven, so the caller knows when to back off.
func (d *Dispatcher) runOnce(ctx context.Context, log *slog.Logger) bool {
	session, err := d.pool.Reserve(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoSessionAvailable) && ctx.Err() == nil {
			log.ErrorContext(ctx, "session reservation failed",
				slog.String("error", err.Error()))
		}
		return false
	}

	task, err := d.tasks.ClaimNextQueued(ctx, session.ID)
	if err != nil {
		// Nothing to run; free the slot without counting an outcome.
		if relErr := d.pool.Release(ctx, session.ID, store.ReleaseAborted, ""); relErr != nil {
			log.ErrorContext(ctx, "failed to release unused reservation",
				slog.String("session_id", session.ID.String()),
				slog.String("error", relErr.Error()))
		}
		if !errors.Is(err, store.ErrNoTaskQueued) && ctx.Err() == nil {
			log.ErrorContext(ctx, "task claim failed",
				slog.String("error", err.Error()))
		}
		return false
	}

	log.InfoContext(ctx, "task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("session_id", session.ID.String()))

	outcome, lastErr := d.pipeline.Run(ctx, task, session)
	if err := d.pool.Release(ctx, session.ID, outcome, lastErr); err != nil {
		log.ErrorContext(ctx, "failed to release session",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
	}
	return true
}

// runStaleSweep periodically requeues active tasks nobody is driving. This
// catches tasks orphaned by a worker that died mid-pipeline without taking
// the whole process down.
func (d *Dispatcher) runStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.StaleTaskAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := d.tasks.RequeueStaleTasks(ctx, d.cfg.StaleTaskAge)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.ErrorContext(ctx, "stale task sweep failed",
					slog.String("error", err.Error()))
			}
			continue
		}
		if n > 0 {
			d.logger.WarnContext(ctx, "requeued stale tasks", slog.Int("count", n))
		}
	}
}

// sleepCtx sleeps for d or until the context ends, reporting whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
