package router

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// formulaBackOff implements backoff.BackOff with the exact schedule spec
// §4.3 step 5 calls for: base · 2^attempt, jittered ±25%. The stock
// backoff.ExponentialBackOff does not expose a bare power-of-two
// multiplier with a fixed jitter fraction, so this is a small custom
// BackOff fed into backoff.Retry rather than a hand-rolled retry loop.
type formulaBackOff struct {
	base    time.Duration
	jitter  float64
	attempt int
}

func newFormulaBackOff(base time.Duration, jitter float64) *formulaBackOff {
	return &formulaBackOff{base: base, jitter: jitter}
}

func (b *formulaBackOff) NextBackOff() time.Duration {
	delay := b.base * time.Duration(int64(1)<<uint(b.attempt))
	b.attempt++
	if b.jitter <= 0 {
		return delay
	}
	span := float64(delay) * b.jitter
	offset := (rand.Float64()*2 - 1) * span
	return delay + time.Duration(offset)
}

// Reset restarts the attempt counter. Present for parity with
// backoff.BackOff implementations that track internal state across a
// fresh Retry call.
func (b *formulaBackOff) Reset() { b.attempt = 0 }

var _ backoff.BackOff = (*formulaBackOff)(nil)
