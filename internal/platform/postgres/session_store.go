package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vidgateway/internal/domain"
	"vidgateway/internal/platform/logger"
	"vidgateway/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
// Reservation is a single UPDATE against a sub-select so capacity can never
// be over-committed by concurrent workers.
type SessionStore struct {
	db store.DBTX
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db store.DBTX) *SessionStore {
	return &SessionStore{db: db}
}

var _ store.SessionStore = (*SessionStore)(nil)

const sessionColumns = `id, label, credential, enabled, healthy, active_tasks, capacity,
	total_tasks, success_count, fail_count, last_error, last_used_at, created_at, updated_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*domain.Session, error) {
	var s domain.Session
	var lastError sql.NullString
	var lastUsedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.Label, &s.Credential, &s.Enabled, &s.Healthy, &s.ActiveTasks, &s.Capacity,
		&s.TotalTasks, &s.SuccessCount, &s.FailCount, &lastError, &lastUsedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LastError = lastError.String
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		s.LastUsedAt = &t
	}
	return &s, nil
}

// CreateSession persists a new session.
func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO sessions (id, label, credential, enabled, healthy, active_tasks, capacity,
			total_tasks, success_count, fail_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.Label, session.Credential, session.Enabled, session.Healthy,
		session.ActiveTasks, session.Capacity,
		session.TotalTasks, session.SuccessCount, session.FailCount,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to create session", "session_id", session.ID, "error", err)
		return store.NewStoreError("session", "create", "insert failed", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to get session", "session_id", id, "error", err)
		return nil, store.NewStoreError("session", "get", "query failed", err)
	}
	return session, nil
}

// ListSessions returns all sessions ordered by creation time.
func (s *SessionStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to list sessions", "error", err)
		return nil, store.NewStoreError("session", "list", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, store.NewStoreError("session", "list", "scan failed", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("session", "list", "row iteration failed", err)
	}
	return sessions, nil
}

// DeleteSession removes a session, refusing while reservations are held
// unless force is set.
func (s *SessionStore) DeleteSession(ctx context.Context, id uuid.UUID, force bool) error {
	query := `DELETE FROM sessions WHERE id = $1 AND ($2 OR active_tasks = 0)`

	result, err := s.db.ExecContext(ctx, query, id, force)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to delete session", "session_id", id, "error", err)
		return store.NewStoreError("session", "delete", "delete failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("session", "delete", "rows affected failed", err)
	}
	if affected == 0 {
		// Distinguish a busy session from a missing one.
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrSessionBusy
	}
	return nil
}

// SetSessionEnabled flips the admin toggle; re-enabling restores healthy so
// an operator can bring a failed session back without a separate probe.
func (s *SessionStore) SetSessionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE sessions
		SET enabled = $2, healthy = CASE WHEN $2 THEN TRUE ELSE healthy END, updated_at = NOW()
		WHERE id = $1
	`
	return s.execOnSession(ctx, "set_enabled", query, id, enabled)
}

// SetSessionHealthy sets the probe-derived health flag.
func (s *SessionStore) SetSessionHealthy(ctx context.Context, id uuid.UUID, healthy bool, lastError string) error {
	query := `
		UPDATE sessions
		SET healthy = $2,
		    last_error = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		    updated_at = NOW()
		WHERE id = $1`
	return s.execOnSession(ctx, "set_healthy", query, id, healthy, lastError)
}

func (s *SessionStore) execOnSession(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Warn("session update failed", "operation", op, "error", err)
		return store.NewStoreError("session", op, "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("session", op, "rows affected failed", err)
	}
	if affected == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// ReserveSession atomically claims one unit of capacity on the least
// recently used eligible session. The sub-select plus UPDATE..RETURNING runs
// as one statement; SKIP LOCKED keeps concurrent workers from serializing on
// the same row.
func (s *SessionStore) ReserveSession(ctx context.Context) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET active_tasks = active_tasks + 1, last_used_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM sessions
			WHERE enabled AND healthy AND active_tasks < capacity
			ORDER BY last_used_at ASC NULLS FIRST, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + sessionColumns

	session, err := scanSession(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSessionAvailable
	}
	if err != nil {
		logger.FromContext(ctx).Warn("failed to reserve session", "error", err)
		return nil, store.NewStoreError("session", "reserve", "claim failed", err)
	}
	return session, nil
}

// ReleaseSession frees one unit of capacity, clamped at zero, and counts
// the outcome exactly once for Success/Failure releases.
func (s *SessionStore) ReleaseSession(ctx context.Context, id uuid.UUID, outcome store.ReleaseOutcome, lastError string) error {
	var successInc, failInc int
	switch outcome {
	case store.ReleaseSuccess:
		successInc = 1
	case store.ReleaseFailure:
		failInc = 1
	case store.ReleaseAborted:
	}

	query := `
		UPDATE sessions
		SET active_tasks = GREATEST(active_tasks - 1, 0),
			total_tasks = total_tasks + $2 + $3,
			success_count = success_count + $2,
			fail_count = fail_count + $3,
			last_error = CASE WHEN $4 <> '' THEN $4 ELSE last_error END,
			updated_at = NOW()
		WHERE id = $1
	`
	return s.execOnSession(ctx, "release", query, id, successInc, failInc, lastError)
}

// ResetActiveSessions zeroes active_tasks on every session. Run once at
// startup before workers claim anything.
func (s *SessionStore) ResetActiveSessions(ctx context.Context) (int, error) {
	query := `UPDATE sessions SET active_tasks = 0, updated_at = NOW() WHERE active_tasks <> 0`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to reset session reservations", "error", err)
		return 0, store.NewStoreError("session", "reset_active", "update failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("session", "reset_active", "rows affected failed", err)
	}
	return int(affected), nil
}
