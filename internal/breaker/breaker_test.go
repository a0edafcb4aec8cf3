package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClosedAllowsCalls(t *testing.T) {
	tbl := NewTable(Config{FailureThreshold: 3, Cooldown: 100 * time.Millisecond})
	assert.True(t, tbl.Allow("backend"))
}

func TestOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	tbl := NewTable(Config{FailureThreshold: 3, Cooldown: 100 * time.Millisecond})

	tbl.OnFailure("backend")
	tbl.OnFailure("backend")
	assert.Equal(t, Closed, tbl.Snapshot("backend").State)

	tbl.OnFailure("backend")
	assert.Equal(t, Open, tbl.Snapshot("backend").State)
	assert.False(t, tbl.Allow("backend"))
}

func TestHalfOpenAfterCooldownPermitsExactlyOneProbe(t *testing.T) {
	now := time.Now()
	tbl := NewTable(Config{FailureThreshold: 1, Cooldown: 100 * time.Millisecond})
	tbl.now = func() time.Time { return now }

	tbl.OnFailure("backend")
	assert.Equal(t, Open, tbl.Snapshot("backend").State)

	tbl.now = func() time.Time { return now.Add(50 * time.Millisecond) }
	assert.False(t, tbl.Allow("backend"), "cooldown has not elapsed yet")

	tbl.now = func() time.Time { return now.Add(150 * time.Millisecond) }
	assert.True(t, tbl.Allow("backend"), "first call after cooldown is the probe")
	assert.False(t, tbl.Allow("backend"), "only one probe is permitted while half-open")
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	now := time.Now()
	tbl := NewTable(Config{FailureThreshold: 1, Cooldown: 100 * time.Millisecond})
	tbl.now = func() time.Time { return now }
	tbl.OnFailure("backend")

	tbl.now = func() time.Time { return now.Add(150 * time.Millisecond) }
	assert.True(t, tbl.Allow("backend"))
	tbl.OnSuccess("backend")

	assert.Equal(t, Closed, tbl.Snapshot("backend").State)
	assert.True(t, tbl.Allow("backend"))
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	now := time.Now()
	tbl := NewTable(Config{FailureThreshold: 1, Cooldown: 100 * time.Millisecond})
	tbl.now = func() time.Time { return now }
	tbl.OnFailure("backend")

	tbl.now = func() time.Time { return now.Add(150 * time.Millisecond) }
	assert.True(t, tbl.Allow("backend"))
	tbl.OnFailure("backend")

	snap := tbl.Snapshot("backend")
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, now.Add(150*time.Millisecond), snap.OpenedAt)
}

func TestOnSuccessResetsConsecutiveFailures(t *testing.T) {
	tbl := NewTable(Config{FailureThreshold: 3, Cooldown: 100 * time.Millisecond})
	tbl.OnFailure("backend")
	tbl.OnFailure("backend")
	tbl.OnSuccess("backend")

	assert.Equal(t, 0, tbl.Snapshot("backend").ConsecutiveFailures)
}
