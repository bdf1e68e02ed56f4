// Package memstore provides an in-memory implementation of the store
// interfaces. A single mutex makes every operation an atomic conditional
// mutation, satisfying the same claim contract as the SQL implementation.
// It backs the test suite and the development mode of the server.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/store"
)

// Store holds sessions and tasks in memory behind one mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	tasks    map[uuid.UUID]*domain.Task
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*domain.Session),
		tasks:    make(map[uuid.UUID]*domain.Task),
	}
}

var (
	_ store.SessionStore = (*Store)(nil)
	_ store.TaskStore    = (*Store)(nil)
)

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.SessionID != nil {
		id := *t.SessionID
		c.SessionID = &id
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}

// CreateSession persists a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := session.Validate(); err != nil {
		return store.NewStoreError("session", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// ListSessions returns all sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSession removes a session, refusing while it has active
// reservations unless force is set.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	if session.ActiveTasks > 0 && !force {
		return domain.ErrSessionBusy
	}
	delete(s.sessions, id)
	return nil
}

// SetSessionEnabled flips the admin toggle. Re-enabling restores healthy.
func (s *Store) SetSessionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	session.Enabled = enabled
	if enabled {
		session.Healthy = true
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// SetSessionHealthy sets the probe-derived health flag.
func (s *Store) SetSessionHealthy(ctx context.Context, id uuid.UUID, healthy bool, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	session.Healthy = healthy
	if lastError != "" {
		session.LastError = lastError
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// ReserveSession atomically claims the least recently used eligible session.
func (s *Store) ReserveSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Session
	for _, session := range s.sessions {
		if !session.Eligible() {
			continue
		}
		if best == nil || lessRecentlyUsed(session, best) {
			best = session
		}
	}
	if best == nil {
		return nil, store.ErrNoSessionAvailable
	}

	now := time.Now().UTC()
	best.ActiveTasks++
	best.LastUsedAt = &now
	best.UpdatedAt = now
	return cloneSession(best), nil
}

// lessRecentlyUsed orders sessions for LRU rotation: never-used first, then
// oldest last_used_at, ties broken by lowest ID.
func lessRecentlyUsed(a, b *domain.Session) bool {
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt == nil && b.LastUsedAt == nil:
		return a.ID.String() < b.ID.String()
	case !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.Before(*b.LastUsedAt)
	default:
		return a.ID.String() < b.ID.String()
	}
}

// ReleaseSession frees one unit of capacity and records the outcome.
func (s *Store) ReleaseSession(ctx context.Context, id uuid.UUID, outcome store.ReleaseOutcome, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}

	if session.ActiveTasks > 0 {
		session.ActiveTasks--
	}
	switch outcome {
	case store.ReleaseSuccess:
		session.TotalTasks++
		session.SuccessCount++
	case store.ReleaseFailure:
		session.TotalTasks++
		session.FailCount++
	case store.ReleaseAborted:
		// Reservation freed without a counted outcome.
	}
	if lastError != "" {
		session.LastError = lastError
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetActiveSessions zeroes active_tasks on every session.
func (s *Store) ResetActiveSessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	now := time.Now().UTC()
	for _, session := range s.sessions {
		if session.ActiveTasks != 0 {
			session.ActiveTasks = 0
			session.UpdatedAt = now
			reset++
		}
	}
	return reset, nil
}

// CreateTask persists a new queued task.
func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return store.NewStoreError("task", "create", "validation failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// ListTasks returns tasks newest-first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNextQueued atomically claims the oldest queued task for a session.
func (s *Store) ClaimNextQueued(ctx context.Context, sessionID uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) ||
			(task.CreatedAt.Equal(oldest.CreatedAt) && task.ID.String() < oldest.ID.String()) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, store.ErrNoTaskQueued
	}

	now := time.Now().UTC()
	sid := sessionID
	oldest.Status = domain.TaskStatusSubmitting
	oldest.SessionID = &sid
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	return cloneTask(oldest), nil
}

// TransitionTask applies a conditional status transition.
func (s *Store) TransitionTask(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, update store.TaskUpdate) error {
	if !domain.CanTransition(from, to) {
		return store.NewStoreError("task", "transition", "unmodeled transition", domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != from {
		return store.ErrTransitionConflict
	}

	now := time.Now().UTC()
	task.Status = to
	task.UpdatedAt = now
	if to.IsTerminal() {
		task.SessionID = nil
		task.FinishedAt = &now
	}
	applyUpdate(task, update)
	return nil
}

func applyUpdate(task *domain.Task, update store.TaskUpdate) {
	if update.RemoteID != nil {
		task.RemoteID = *update.RemoteID
	}
	if update.VideoURL != nil {
		task.VideoURL = *update.VideoURL
	}
	if update.ErrorKind != nil {
		task.ErrorKind = *update.ErrorKind
	}
	if update.ErrorMessage != nil {
		task.ErrorMessage = *update.ErrorMessage
	}
}

// CancelTask marks a non-terminal task cancelled.
func (s *Store) CancelTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		return domain.ErrTaskAlreadyFinal
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCancelled
	task.SessionID = nil
	task.FinishedAt = &now
	task.UpdatedAt = now
	return nil
}

// RetryTask returns a terminal task to the queue for a fresh attempt.
func (s *Store) RetryTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if !task.Status.IsTerminal() {
		return domain.ErrTaskNotRetriable
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusQueued
	task.SessionID = nil
	task.RemoteID = ""
	task.VideoURL = ""
	task.ErrorKind = ""
	task.ErrorMessage = ""
	task.RetryCount++
	task.StartedAt = nil
	task.FinishedAt = nil
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

// SetTaskTimes overrides a task's started/finished timestamps. Test hook for
// building deterministic completion history; no-op on unknown IDs.
func (s *Store) SetTaskTimes(id uuid.UUID, startedAt, finishedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[id]; ok {
		task.StartedAt = &startedAt
		task.FinishedAt = &finishedAt
	}
}

// CountQueuedBefore returns how many queued tasks predate the given instant.
func (s *Store) CountQueuedBefore(ctx context.Context, createdAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusQueued && task.CreatedAt.Before(createdAt) {
			count++
		}
	}
	return count, nil
}

// CountTasksByStatus returns aggregate counts keyed by status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// AverageCompletion returns the mean completion time over recent successes.
func (s *Store) AverageCompletion(ctx context.Context, model string, lastN int) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []*domain.Task
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusSucceeded && task.Model == model &&
			task.StartedAt != nil && task.FinishedAt != nil {
			completed = append(completed, task)
		}
	}
	if len(completed) == 0 {
		return 0, nil
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].FinishedAt.After(*completed[j].FinishedAt)
	})
	if lastN > 0 && len(completed) > lastN {
		completed = completed[:lastN]
	}

	var total time.Duration
	for _, task := range completed {
		total += task.FinishedAt.Sub(*task.StartedAt)
	}
	return total / time.Duration(len(completed)), nil
}

// RequeueStaleTasks requeues active tasks whose last update is too old.
func (s *Store) RequeueStaleTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	requeued := 0
	for _, task := range s.tasks {
		if !task.Status.IsActive() || task.UpdatedAt.After(cutoff) {
			continue
		}
		task.Status = domain.TaskStatusQueued
		task.SessionID = nil
		task.StartedAt = nil
		task.UpdatedAt = time.Now().UTC()
		requeued++
	}
	return requeued, nil
}
