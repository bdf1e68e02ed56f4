// Package pool manages the pool of provider sessions: registration,
// least-recently-used reservation, release accounting and health tracking.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/store"
)

// Prober checks whether a credential is still accepted by the provider.
type Prober interface {
	Ping(ctx context.Context, credential string) error
}

// Manager coordinates session lifecycle and reservation. All capacity
// accounting lives in the store so that concurrent workers and crashed
// processes cannot corrupt it; the manager only adds health-streak tracking
// and default handling on top.
type Manager struct {
	sessions        store.SessionStore
	prober          Prober
	logger          *slog.Logger
	defaultCapacity int
	unhealthyAfter  int

	mu          sync.Mutex
	failStreaks map[uuid.UUID]int
}

// Config carries the pool tuning knobs.
type Config struct {
	// DefaultCapacity applies when an added session does not specify one.
	DefaultCapacity int

	// UnhealthyAfter is the consecutive probe failure count that clears a
	// session's healthy flag.
	UnhealthyAfter int
}

// NewManager creates a session pool manager.
func NewManager(sessions store.SessionStore, prober Prober, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:        sessions,
		prober:          prober,
		logger:          logger.With(slog.String("component", "pool")),
		defaultCapacity: cfg.DefaultCapacity,
		unhealthyAfter:  cfg.UnhealthyAfter,
		failStreaks:     make(map[uuid.UUID]int),
	}
}

// Add registers a new session. A non-positive capacity selects the
// configured default.
func (m *Manager) Add(ctx context.Context, label, credential string, capacity int) (*domain.Session, error) {
	if capacity <= 0 {
		capacity = m.defaultCapacity
	}

	session, err := domain.NewSession(label, credential, capacity)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.InfoContext(ctx, "session added",
		slog.String("session_id", session.ID.String()),
		slog.String("label", session.Label),
		slog.Int("capacity", session.Capacity))
	return session, nil
}

// Remove deletes a session. Unless force is set, a session with active
// reservations is refused with domain.ErrSessionBusy.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID, force bool) error {
	if err := m.sessions.DeleteSession(ctx, id, force); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.failStreaks, id)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session removed",
		slog.String("session_id", id.String()),
		slog.Bool("force", force))
	return nil
}

// SetEnabled flips a session's enabled flag. Re-enabling also restores the
// healthy flag and clears the probe streak, giving the session a clean
// slate.
func (m *Manager) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Session, error) {
	if err := m.sessions.SetSessionEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}

	if enabled {
		m.mu.Lock()
		delete(m.failStreaks, id)
		m.mu.Unlock()
	}

	m.logger.InfoContext(ctx, "session enabled flag changed",
		slog.String("session_id", id.String()),
		slog.Bool("enabled", enabled))
	return m.sessions.GetSession(ctx, id)
}

// Get returns one session by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.sessions.GetSession(ctx, id)
}

// List returns all sessions.
func (m *Manager) List(ctx context.Context) ([]*domain.Session, error) {
	return m.sessions.ListSessions(ctx)
}

// Reserve atomically picks the least recently used eligible session and
// takes one capacity slot on it. Returns store.ErrNoSessionAvailable when
// every session is disabled, unhealthy or full.
func (m *Manager) Reserve(ctx context.Context) (*domain.Session, error) {
	return m.sessions.ReserveSession(ctx)
}

// Release returns a reserved slot and records the outcome. lastError is
// only stored for failure outcomes.
func (m *Manager) Release(ctx context.Context, id uuid.UUID, outcome store.ReleaseOutcome, lastError string) error {
	if err := m.sessions.ReleaseSession(ctx, id, outcome, lastError); err != nil {
		return err
	}
	if outcome == store.ReleaseSuccess {
		m.resetStreak(id)
	}
	return nil
}

// MarkAuthFailure immediately flags a session unhealthy, regardless of its
// probe streak. Called when the provider rejects the session's credential
// on a real request.
func (m *Manager) MarkAuthFailure(ctx context.Context, id uuid.UUID, reason string) {
	if err := m.sessions.SetSessionHealthy(ctx, id, false, reason); err != nil {
		m.logger.WarnContext(ctx, "failed to mark session unhealthy",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()))
		return
	}
	m.logger.WarnContext(ctx, "session marked unhealthy after auth failure",
		slog.String("session_id", id.String()),
		slog.String("reason", reason))
}

// Probe pings the provider with one session's credential and updates its
// health state. A success restores the healthy flag; failures accumulate
// until the configured threshold clears it.
func (m *Manager) Probe(ctx context.Context, id uuid.UUID) error {
	session, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}

	pingErr := m.prober.Ping(ctx, session.Credential)
	if pingErr == nil {
		m.resetStreak(id)
		if !session.Healthy {
			if err := m.sessions.SetSessionHealthy(ctx, id, true, ""); err != nil {
				return err
			}
			m.logger.InfoContext(ctx, "session recovered",
				slog.String("session_id", id.String()))
		}
		return nil
	}

	streak := m.bumpStreak(id)
	m.logger.WarnContext(ctx, "session probe failed",
		slog.String("session_id", id.String()),
		slog.Int("consecutive_failures", streak),
		slog.String("error", pingErr.Error()))

	if streak >= m.unhealthyAfter && session.Healthy {
		if err := m.sessions.SetSessionHealthy(ctx, id, false, pingErr.Error()); err != nil {
			return err
		}
		m.logger.WarnContext(ctx, "session marked unhealthy",
			slog.String("session_id", id.String()),
			slog.Int("consecutive_failures", streak))
	}
	return pingErr
}

// ProbeAll probes every enabled session. Individual probe failures are
// recorded but do not abort the sweep.
func (m *Manager) ProbeAll(ctx context.Context) {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to list sessions for probing",
			slog.String("error", err.Error()))
		return
	}
	for _, s := range sessions {
		if !s.Enabled {
			continue
		}
		_ = m.Probe(ctx, s.ID)
	}
}

func (m *Manager) bumpStreak(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStreaks[id]++
	return m.failStreaks[id]
}

func (m *Manager) resetStreak(id uuid.UUID) {
	m.mu.Lock()
	delete(m.failStreaks, id)
	m.mu.Unlock()
}
