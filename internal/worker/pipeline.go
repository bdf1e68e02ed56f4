package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"vidgateway/internal/domain"
	"vidgateway/internal/pool"
	"vidgateway/internal/provider"
	"vidgateway/internal/store"
)

// Pipeline drives one claimed task through submit, poll and download. Every
// status write is conditional on the expected prior status, so a concurrent
// cancellation wins and the pipeline abandons the task.
type Pipeline struct {
	tasks     store.TaskStore
	pool      *pool.Manager
	generator provider.VideoGenerator
	logger    *slog.Logger

	submitRetries   int
	pollInterval    time.Duration
	maxPollDuration time.Duration
}

// NewPipeline creates a task pipeline.
func NewPipeline(tasks store.TaskStore, sessionPool *pool.Manager, generator provider.VideoGenerator, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		tasks:           tasks,
		pool:            sessionPool,
		generator:       generator,
		logger:          logger.With(slog.String("component", "pipeline")),
		submitRetries:   cfg.SubmitRetries,
		pollInterval:    cfg.PollInterval,
		maxPollDuration: cfg.MaxPollDuration,
	}
}

// Run executes the pipeline for a task already claimed into submitting with
// the session bound. It returns how the session reservation should be
// released, plus the error message to record on failure outcomes.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, session *domain.Session) (store.ReleaseOutcome, string) {
	log := p.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("session_id", session.ID.String()))

	remoteID, err := p.submit(ctx, task, session)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; leave the task for crash recovery.
			return store.ReleaseAborted, ""
		}
		return p.failTask(ctx, task, session, domain.TaskStatusSubmitting, err, log)
	}

	err = p.tasks.TransitionTask(ctx, task.ID, domain.TaskStatusSubmitting, domain.TaskStatusPolling,
		store.TaskUpdate{RemoteID: &remoteID})
	if errors.Is(err, store.ErrTransitionConflict) {
		// Cancelled while submitting. The upstream job keeps running but
		// nothing references it any more.
		log.InfoContext(ctx, "task cancelled during submit, abandoning",
			slog.String("remote_id", remoteID))
		return store.ReleaseAborted, ""
	}
	if err != nil {
		return p.failTask(ctx, task, session, domain.TaskStatusSubmitting, storeFailure(err), log)
	}
	log.InfoContext(ctx, "task submitted", slog.String("remote_id", remoteID))

	videoURL, outcome, msg := p.poll(ctx, task, session, remoteID, log)
	if videoURL == "" {
		return outcome, msg
	}

	return p.download(ctx, task, session, videoURL, log)
}

// submit starts the upstream job, retrying transient network failures a
// bounded number of times.
func (p *Pipeline) submit(ctx context.Context, task *domain.Task, session *domain.Session) (string, error) {
	params := provider.SubmitParams{
		Model:        task.Model,
		Prompt:       task.Prompt,
		DurationSecs: task.DurationSecs,
		AspectRatio:  task.AspectRatio,
	}

	var remoteID string
	backoff := retry.WithMaxRetries(uint64(p.submitRetries), retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := p.generator.Submit(ctx, session.Credential, params)
		if err != nil {
			if provider.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		remoteID = id
		return nil
	})
	return remoteID, err
}

// poll watches the upstream job until it is ready, fails, or the total poll
// budget runs out. A non-empty returned URL means the job is ready and the
// task has moved to downloading; otherwise the returned outcome is final.
func (p *Pipeline) poll(ctx context.Context, task *domain.Task, session *domain.Session, remoteID string, log *slog.Logger) (string, store.ReleaseOutcome, string) {
	deadline := time.Now().Add(p.maxPollDuration)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", store.ReleaseAborted, ""
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			err := provider.NewError(provider.KindTimeout, "",
				fmt.Sprintf("generation did not finish within %s", p.maxPollDuration), nil)
			outcome, msg := p.failTask(ctx, task, session, domain.TaskStatusPolling, err, log)
			return "", outcome, msg
		}

		result, err := p.generator.Poll(ctx, session.Credential, remoteID)
		if err != nil {
			if ctx.Err() != nil {
				return "", store.ReleaseAborted, ""
			}
			if provider.IsTransient(err) {
				log.WarnContext(ctx, "poll failed, will retry",
					slog.String("error", err.Error()))
				continue
			}
			outcome, msg := p.failTask(ctx, task, session, domain.TaskStatusPolling, err, log)
			return "", outcome, msg
		}

		switch result.State {
		case provider.PollRunning:
			// Touch the task so crash recovery does not mistake it for
			// stale; also surfaces a concurrent cancellation.
			err := p.tasks.TransitionTask(ctx, task.ID, domain.TaskStatusPolling, domain.TaskStatusPolling, store.TaskUpdate{})
			if errors.Is(err, store.ErrTransitionConflict) {
				log.InfoContext(ctx, "task cancelled during polling, abandoning")
				return "", store.ReleaseAborted, ""
			}
			if err != nil {
				outcome, msg := p.failTask(ctx, task, session, domain.TaskStatusPolling, storeFailure(err), log)
				return "", outcome, msg
			}

		case provider.PollReady:
			err := p.tasks.TransitionTask(ctx, task.ID, domain.TaskStatusPolling, domain.TaskStatusDownloading, store.TaskUpdate{})
			if errors.Is(err, store.ErrTransitionConflict) {
				log.InfoContext(ctx, "task cancelled during polling, abandoning")
				return "", store.ReleaseAborted, ""
			}
			if err != nil {
				outcome, msg := p.failTask(ctx, task, session, domain.TaskStatusPolling, storeFailure(err), log)
				return "", outcome, msg
			}
			return result.VideoURL, 0, ""

		case provider.PollFailed:
			err := provider.NewError(provider.Classify(result.FailMessage), result.FailCode, result.FailMessage, nil)
			outcome, msg := p.failTask(ctx, task, session, domain.TaskStatusPolling, err, log)
			return "", outcome, msg
		}
	}
}

// download fetches the finished artifact and records the final result.
func (p *Pipeline) download(ctx context.Context, task *domain.Task, session *domain.Session, videoURL string, log *slog.Logger) (store.ReleaseOutcome, string) {
	data, err := p.generator.Download(ctx, session.Credential, videoURL)
	if err != nil {
		if ctx.Err() != nil {
			return store.ReleaseAborted, ""
		}
		return p.failTask(ctx, task, session, domain.TaskStatusDownloading, err, log)
	}

	err = p.tasks.TransitionTask(ctx, task.ID, domain.TaskStatusDownloading, domain.TaskStatusSucceeded,
		store.TaskUpdate{VideoURL: &videoURL})
	if errors.Is(err, store.ErrTransitionConflict) {
		log.InfoContext(ctx, "task cancelled during download, abandoning")
		return store.ReleaseAborted, ""
	}
	if err != nil {
		return p.failTask(ctx, task, session, domain.TaskStatusDownloading, storeFailure(err), log)
	}

	log.InfoContext(ctx, "task succeeded",
		slog.String("video_url", videoURL),
		slog.Int("video_bytes", len(data)))
	return store.ReleaseSuccess, ""
}

// failTask records a failure on the task with its classified kind. If a
// concurrent cancellation already moved the task, the reservation is
// released without counting an outcome. Auth failures also flag the session
// unhealthy so the pool stops handing it out.
func (p *Pipeline) failTask(ctx context.Context, task *domain.Task, session *domain.Session, from domain.TaskStatus, cause error, log *slog.Logger) (store.ReleaseOutcome, string) {
	kind := string(provider.KindOf(cause))
	msg := cause.Error()

	err := p.tasks.TransitionTask(ctx, task.ID, from, domain.TaskStatusFailed,
		store.TaskUpdate{ErrorKind: &kind, ErrorMessage: &msg})
	if errors.Is(err, store.ErrTransitionConflict) {
		log.InfoContext(ctx, "task already finalized, dropping failure",
			slog.String("error_kind", kind))
		return store.ReleaseAborted, ""
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to record task failure",
			slog.String("error", err.Error()))
		return store.ReleaseFailure, msg
	}

	if provider.ErrorKind(kind) == provider.KindAuth {
		p.pool.MarkAuthFailure(ctx, session.ID, msg)
	}

	log.WarnContext(ctx, "task failed",
		slog.String("error_kind", kind),
		slog.String("error", msg))
	return store.ReleaseFailure, msg
}

func storeFailure(err error) error {
	return provider.NewError(provider.KindStore, "", err.Error(), err)
}
