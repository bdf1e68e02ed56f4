package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vidgateway/internal/store"
)

// RunRecovery reconciles persisted state after a restart, before any worker
// starts. Reservations held by the dead process are released by zeroing
// every session's active_tasks, and active tasks whose last update predates
// the staleness threshold are returned to the queue.
func RunRecovery(ctx context.Context, sessions store.SessionStore, tasks store.TaskStore, staleAge time.Duration, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "recovery"))

	resetSessions, err := sessions.ResetActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset session reservations: %w", err)
	}

	requeued, err := tasks.RequeueStaleTasks(ctx, staleAge)
	if err != nil {
		return fmt.Errorf("failed to requeue stale tasks: %w", err)
	}

	if resetSessions > 0 || requeued > 0 {
		log.InfoContext(ctx, "crash recovery reconciled state",
			slog.Int("sessions_reset", resetSessions),
			slog.Int("tasks_requeued", requeued))
	} else {
		log.InfoContext(ctx, "crash recovery found clean state")
	}
	return nil
}
