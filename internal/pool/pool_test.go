package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgateway/internal/domain"
	"vidgateway/internal/platform/memstore"
	"vidgateway/internal/store"
)

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Ping(_ context.Context, _ string) error {
	f.calls++
	return f.err
}

func newManager(t *testing.T, prober *fakeProber) (*Manager, *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(ms, prober, Config{DefaultCapacity: 2, UnhealthyAfter: 3}, logger)
	return mgr, ms
}

func TestAddAppliesDefaultCapacity(t *testing.T) {
	mgr, _ := newManager(t, &fakeProber{})

	s, err := mgr.Add(context.Background(), "acct-a", "sess-credential-0123456789abcdef", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Capacity)
	assert.True(t, s.Enabled)
	assert.True(t, s.Healthy)

	s2, err := mgr.Add(context.Background(), "acct-b", "sess-credential-fedcba9876543210", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, s2.Capacity)
}

func TestAddRejectsInvalidSession(t *testing.T) {
	mgr, _ := newManager(t, &fakeProber{})

	_, err := mgr.Add(context.Background(), "acct-a", "", 0)
	assert.ErrorIs(t, err, domain.ErrEmptySessionCredential)
}

func TestRemoveRefusesBusySession(t *testing.T) {
	mgr, _ := newManager(t, &fakeProber{})
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 1)
	require.NoError(t, err)

	_, err = mgr.Reserve(ctx)
	require.NoError(t, err)

	err = mgr.Remove(ctx, s.ID, false)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	// Force removal works even while busy.
	require.NoError(t, mgr.Remove(ctx, s.ID, true))
	_, err = mgr.Get(ctx, s.ID)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestReserveReturnsNoSessionWhenPoolEmpty(t *testing.T) {
	mgr, _ := newManager(t, &fakeProber{})

	_, err := mgr.Reserve(context.Background())
	assert.ErrorIs(t, err, store.ErrNoSessionAvailable)
}

func TestReleaseSuccessResetsProbeStreak(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	mgr, _ := newManager(t, prober)
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	// Two failed probes, below the threshold of three.
	_ = mgr.Probe(ctx, s.ID)
	_ = mgr.Probe(ctx, s.ID)

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Healthy)

	// A successful task wipes the streak, so two more failures still do
	// not cross the threshold.
	reserved, err := mgr.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, reserved.ID, store.ReleaseSuccess, ""))

	_ = mgr.Probe(ctx, s.ID)
	_ = mgr.Probe(ctx, s.ID)

	got, err = mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Healthy)
}

func TestProbeMarksUnhealthyAfterThreshold(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	mgr, _ := newManager(t, prober)
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := mgr.Probe(ctx, s.ID)
		assert.Error(t, err)
	}

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Healthy)
	assert.Equal(t, "connection refused", got.LastError)

	// Unhealthy sessions are skipped by reservation.
	_, err = mgr.Reserve(ctx)
	assert.ErrorIs(t, err, store.ErrNoSessionAvailable)
}

func TestProbeSuccessRestoresHealth(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	mgr, _ := newManager(t, prober)
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = mgr.Probe(ctx, s.ID)
	}

	prober.err = nil
	require.NoError(t, mgr.Probe(ctx, s.ID))

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Healthy)
}

func TestMarkAuthFailureImmediatelyClearsHealth(t *testing.T) {
	mgr, _ := newManager(t, &fakeProber{})
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	mgr.MarkAuthFailure(ctx, s.ID, "session expired")

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Healthy)
	assert.Equal(t, "session expired", got.LastError)
}

func TestReenableRestoresHealthAndStreak(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	mgr, _ := newManager(t, prober)
	ctx := context.Background()

	s, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = mgr.Probe(ctx, s.ID)
	}

	_, err = mgr.SetEnabled(ctx, s.ID, false)
	require.NoError(t, err)

	got, err := mgr.SetEnabled(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Healthy)

	// Streak was cleared by the re-enable, so one new failure does not
	// immediately trip the threshold again.
	_ = mgr.Probe(ctx, s.ID)
	got, err = mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Healthy)
}

func TestProbeAllSkipsDisabledSessions(t *testing.T) {
	prober := &fakeProber{}
	mgr, _ := newManager(t, prober)
	ctx := context.Background()

	_, err := mgr.Add(ctx, "acct-a", "sess-credential-0123456789abcdef", 2)
	require.NoError(t, err)
	s2, err := mgr.Add(ctx, "acct-b", "sess-credential-fedcba9876543210", 2)
	require.NoError(t, err)

	_, err = mgr.SetEnabled(ctx, s2.ID, false)
	require.NoError(t, err)

	mgr.ProbeAll(ctx)
	assert.Equal(t, 1, prober.calls)
}
