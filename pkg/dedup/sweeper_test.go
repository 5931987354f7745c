package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_DisabledWithoutSchedule(t *testing.T) {
	s := NewSweeper(NewLedger(time.Minute), "")
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.False(t, s.Enabled())
	assert.Equal(t, false, s.Status()["running"])
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := NewSweeper(NewLedger(time.Minute), "not a cron")
	assert.Error(t, s.Start())
}

func TestSweeper_RunDue(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC)
	ledger := NewLedger(time.Minute)
	ledger.ShouldEmit("stale", clock.Add(-5*time.Minute))
	ledger.ShouldEmit("recent", clock.Add(2*time.Minute))

	s := NewSweeper(ledger, "*/5 * * * *")
	s.now = func() time.Time { return clock }
	require.NoError(t, s.Start())
	defer s.Stop()

	status := s.Status()
	assert.Equal(t, true, status["running"])
	assertTime(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), status["next_run"])

	// not yet due
	assert.False(t, s.runDue(clock.Add(time.Minute)))
	assert.Equal(t, 2, ledger.Len())

	due := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	assert.True(t, s.runDue(due))
	assert.Equal(t, 1, ledger.Len())

	status = s.Status()
	assert.Equal(t, 1, status["swept"])
	assertTime(t, due, status["last_run"])
	assertTime(t, time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC), status["next_run"])
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	s := NewSweeper(NewLedger(time.Minute), "* * * * *")
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()

	assert.False(t, s.runDue(time.Now().Add(time.Hour)))
}

func assertTime(t *testing.T, want time.Time, got interface{}) {
	t.Helper()
	ts, ok := got.(time.Time)
	require.True(t, ok, "expected time.Time, got %T", got)
	assert.True(t, want.Equal(ts), "want %v, got %v", want, ts)
}
