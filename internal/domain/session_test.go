package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	session, err := NewSession("account-1", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, session.ID)
	assert.True(t, session.Enabled)
	assert.True(t, session.Healthy)
	assert.Equal(t, 0, session.ActiveTasks)
	assert.Equal(t, 2, session.Capacity)
	assert.Nil(t, session.LastUsedAt)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession("account-1", "", 2)
	assert.ErrorIs(t, err, ErrEmptySessionCredential)

	_, err = NewSession("account-1", "sess-credential", 0)
	assert.ErrorIs(t, err, ErrInvalidSessionCapacity)
}

func TestSessionEligible(t *testing.T) {
	session, err := NewSession("", "sess-credential", 2)
	require.NoError(t, err)
	assert.True(t, session.Eligible())

	session.ActiveTasks = 2
	assert.False(t, session.Eligible(), "at capacity")

	session.ActiveTasks = 1
	session.Healthy = false
	assert.False(t, session.Eligible(), "unhealthy")

	session.Healthy = true
	session.Enabled = false
	assert.False(t, session.Eligible(), "disabled")
}

func TestSessionMaskedCredential(t *testing.T) {
	session, err := NewSession("", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	masked := session.MaskedCredential()
	assert.Equal(t, "sess-cre...cdef", masked)
	assert.NotContains(t, masked, "credential-0123456789")

	short, err := NewSession("", "tiny", 2)
	require.NoError(t, err)
	assert.Equal(t, "****", short.MaskedCredential())
}
