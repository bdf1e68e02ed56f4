package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Session
var (
	ErrEmptySessionID         = errors.New("session ID cannot be empty")
	ErrEmptySessionCredential = errors.New("session credential cannot be empty")
	ErrInvalidSessionCapacity = errors.New("session capacity must be positive")
	ErrSessionBusy            = errors.New("session has active reservations")
)

// Session is a pooled upstream credential with bounded concurrent capacity.
// ActiveTasks and LastUsedAt are mutated only through the pool's atomic
// reserve/release operations; Healthy only by health probes and the worker's
// failure-streak handling.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	Label        string     `json:"label"`
	Credential   string     `json:"credential"`
	Enabled      bool       `json:"enabled"`
	Healthy      bool       `json:"healthy"`
	ActiveTasks  int        `json:"active_tasks"`
	Capacity     int        `json:"capacity"`
	TotalTasks   int        `json:"total_tasks"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
	LastError    string     `json:"last_error,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewSession creates an enabled, healthy Session with no usage history.
// Returns an error if validation fails.
func NewSession(label, credential string, capacity int) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:         uuid.New(),
		Label:      label,
		Credential: credential,
		Enabled:    true,
		Healthy:    true,
		Capacity:   capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := session.Validate(); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate checks if the Session has valid data.
func (s *Session) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySessionID
	}
	if s.Credential == "" {
		return ErrEmptySessionCredential
	}
	if s.Capacity <= 0 {
		return ErrInvalidSessionCapacity
	}
	return nil
}

// Eligible reports whether the session can accept a new reservation.
func (s *Session) Eligible() bool {
	return s.Enabled && s.Healthy && s.ActiveTasks < s.Capacity
}

// MaskedCredential returns a redacted form of the credential suitable for
// API responses and logs.
func (s *Session) MaskedCredential() string {
	if len(s.Credential) > 12 {
		return fmt.Sprintf("%s...%s", s.Credential[:8], s.Credential[len(s.Credential)-4:])
	}
	return "****"
}
