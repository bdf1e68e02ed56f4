package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgateway/internal/domain"
	"vidgateway/internal/store"
)

func newSession(t *testing.T, label string, capacity int) *domain.Session {
	t.Helper()
	session, err := domain.NewSession(label, "credential-"+label, capacity)
	require.NoError(t, err)
	return session
}

func newTask(t *testing.T, prompt string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("", prompt, 0, "", "")
	require.NoError(t, err)
	return task
}

func TestReserveSessionNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 2)
	require.NoError(t, s.CreateSession(ctx, session))

	// Many goroutines race for two slots.
	const attempts = 32
	var wg sync.WaitGroup
	reserved := make(chan *domain.Session, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ReserveSession(ctx)
			if err == nil {
				reserved <- got
			}
		}()
	}
	wg.Wait()
	close(reserved)

	count := 0
	for range reserved {
		count++
	}
	assert.Equal(t, 2, count, "exactly capacity reservations must succeed")

	current, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.ActiveTasks)
}

func TestReserveSessionLRURotation(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newSession(t, "a", 2)
	b := newSession(t, "b", 2)
	require.NoError(t, s.CreateSession(ctx, a))
	require.NoError(t, s.CreateSession(ctx, b))

	// Mark a as recently used; b (never used) must be picked first.
	first, err := s.ReserveSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseSession(ctx, first.ID, store.ReleaseSuccess, ""))

	second, err := s.ReserveSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "rotation must prefer the least recently used session")
}

func TestReserveSessionSkipsIneligible(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))
	require.NoError(t, s.SetSessionEnabled(ctx, session.ID, false))

	_, err := s.ReserveSession(ctx)
	assert.ErrorIs(t, err, store.ErrNoSessionAvailable)

	// Re-enabling restores healthy and eligibility.
	require.NoError(t, s.SetSessionHealthy(ctx, session.ID, false, "probe failed"))
	require.NoError(t, s.SetSessionEnabled(ctx, session.ID, true))
	got, err := s.ReserveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestReleaseSessionCountsOutcomeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 2)
	require.NoError(t, s.CreateSession(ctx, session))

	reserved, err := s.ReserveSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseSession(ctx, reserved.ID, store.ReleaseSuccess, ""))

	current, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.SuccessCount)
	assert.Equal(t, 0, current.FailCount)
	assert.Equal(t, 1, current.TotalTasks)
	assert.Equal(t, 0, current.ActiveTasks)
}

func TestReleaseSessionClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 2)
	require.NoError(t, s.CreateSession(ctx, session))

	// Double release must not drive active_tasks negative.
	require.NoError(t, s.ReleaseSession(ctx, session.ID, store.ReleaseAborted, ""))
	require.NoError(t, s.ReleaseSession(ctx, session.ID, store.ReleaseAborted, ""))

	current, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.ActiveTasks)
	assert.Equal(t, 0, current.TotalTasks, "aborted releases are not counted outcomes")
}

func TestDeleteSessionRefusesWhileBusy(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))

	_, err := s.ReserveSession(ctx)
	require.NoError(t, err)

	err = s.DeleteSession(ctx, session.ID, false)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	require.NoError(t, s.DeleteSession(ctx, session.ID, true))
}

func TestClaimNextQueuedIsFIFO(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 2)
	require.NoError(t, s.CreateSession(ctx, session))

	first := newTask(t, "first")
	second := newTask(t, "second")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.CreateTask(ctx, first))
	require.NoError(t, s.CreateTask(ctx, second))

	claimed, err := s.ClaimNextQueued(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, domain.TaskStatusSubmitting, claimed.Status)
	require.NotNil(t, claimed.SessionID)
	assert.Equal(t, session.ID, *claimed.SessionID)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimNextQueuedEmpty(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.ClaimNextQueued(ctx, newSession(t, "a", 1).ID)
	assert.ErrorIs(t, err, store.ErrNoTaskQueued)
}

func TestCancelWinsAgainstCompletion(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))

	task := newTask(t, "race")
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimNextQueued(ctx, session.ID)
	require.NoError(t, err)
	require.NoError(t, s.TransitionTask(ctx, task.ID, domain.TaskStatusSubmitting, domain.TaskStatusPolling, store.TaskUpdate{}))
	require.NoError(t, s.TransitionTask(ctx, task.ID, domain.TaskStatusPolling, domain.TaskStatusDownloading, store.TaskUpdate{}))

	// Cancel lands first; the worker's success write must lose.
	require.NoError(t, s.CancelTask(ctx, task.ID))

	url := "https://cdn.example.com/video.mp4"
	err = s.TransitionTask(ctx, task.ID, domain.TaskStatusDownloading, domain.TaskStatusSucceeded, store.TaskUpdate{VideoURL: &url})
	assert.ErrorIs(t, err, store.ErrTransitionConflict)

	current, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, current.Status)
	assert.Empty(t, current.VideoURL)
	assert.Nil(t, current.SessionID)
}

func TestCancelTaskAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	task := newTask(t, "done")
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.CancelTask(ctx, task.ID))

	err := s.CancelTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskAlreadyFinal)
}

func TestTransitionRejectsUnmodeledMoves(t *testing.T) {
	ctx := context.Background()
	s := New()
	task := newTask(t, "skip")
	require.NoError(t, s.CreateTask(ctx, task))

	err := s.TransitionTask(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusDownloading, store.TaskUpdate{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRetryTaskResetsFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))

	task := newTask(t, "flaky")
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimNextQueued(ctx, session.ID)
	require.NoError(t, err)

	kind := "network"
	msg := "connection refused"
	require.NoError(t, s.TransitionTask(ctx, task.ID, domain.TaskStatusSubmitting, domain.TaskStatusFailed,
		store.TaskUpdate{ErrorKind: &kind, ErrorMessage: &msg}))

	require.NoError(t, s.RetryTask(ctx, task.ID))

	current, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, current.Status)
	assert.Empty(t, current.ErrorKind)
	assert.Empty(t, current.ErrorMessage)
	assert.Nil(t, current.SessionID)
	assert.Nil(t, current.StartedAt)
	assert.Equal(t, 1, current.RetryCount)
}

func TestRetryTaskRequiresTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	task := newTask(t, "running")
	require.NoError(t, s.CreateTask(ctx, task))

	err := s.RetryTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotRetriable)
}

func TestRequeueStaleTasks(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))

	task := newTask(t, "stuck")
	require.NoError(t, s.CreateTask(ctx, task))
	claimed, err := s.ClaimNextQueued(ctx, session.ID)
	require.NoError(t, err)
	require.NoError(t, s.TransitionTask(ctx, claimed.ID, domain.TaskStatusSubmitting, domain.TaskStatusPolling, store.TaskUpdate{}))

	// Simulate a stale record left by a dead process.
	s.mu.Lock()
	s.tasks[task.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	requeued, err := s.RequeueStaleTasks(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	current, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, current.Status)
	assert.Nil(t, current.SessionID)
}

func TestRequeueStaleTasksLeavesFreshOnes(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := newSession(t, "a", 1)
	require.NoError(t, s.CreateSession(ctx, session))

	task := newTask(t, "active")
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimNextQueued(ctx, session.ID)
	require.NoError(t, err)

	requeued, err := s.RequeueStaleTasks(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
}

func TestCountQueuedBefore(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		task := newTask(t, "queued")
		task.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateTask(ctx, task))
	}

	count, err := s.CountQueuedBefore(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAverageCompletion(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 2; i++ {
		task := newTask(t, "done")
		started := time.Now().UTC().Add(-time.Minute)
		finished := started.Add(30 * time.Second)
		task.Status = domain.TaskStatusSucceeded
		task.StartedAt = &started
		task.FinishedAt = &finished
		require.NoError(t, s.CreateTask(ctx, task))
	}

	avg, err := s.AverageCompletion(ctx, domain.DefaultModel, 50)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, avg)

	avg, err = s.AverageCompletion(ctx, "other-model", 50)
	require.NoError(t, err)
	assert.Zero(t, avg)
}

func TestCountTasksByStatus(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTask(ctx, newTask(t, "queued")))
	}
	done := newTask(t, "done")
	require.NoError(t, s.CreateTask(ctx, done))
	require.NoError(t, s.CancelTask(ctx, done.ID))

	counts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.TaskStatusQueued])
	assert.Equal(t, 1, counts[domain.TaskStatusCancelled])
}
