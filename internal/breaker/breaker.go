// Package breaker implements the per-backend circuit breaker (spec §3,
// §4.3 step 4/6, §8 scenario 4): a closed/open/half_open state machine
// keyed by backend id, updated atomically per key the way the spec's
// concurrency model requires (§5).
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitBreakerState is the per-backend breaker record (spec §3).
type CircuitBreakerState struct {
	State                  State
	ConsecutiveFailures    int
	OpenedAt               time.Time
	HalfOpenPermittedProbe bool
}

// Config holds the thresholds governing transitions.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Table is the breaker table, one entry per backend id.
type Table struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*CircuitBreakerState
	now     func() time.Time
}

// NewTable builds a breaker Table under cfg.
func NewTable(cfg Config) *Table {
	return &Table{
		cfg:     cfg,
		entries: make(map[string]*CircuitBreakerState),
		now:     time.Now,
	}
}

func (t *Table) entry(id string) *CircuitBreakerState {
	e, ok := t.entries[id]
	if !ok {
		e = &CircuitBreakerState{State: Closed}
		t.entries[id] = e
	}
	return e
}

// Allow reports whether a call to id may proceed right now, transitioning
// open → half_open once the cooldown has elapsed and admitting exactly one
// probe while half-open.
func (t *Table) Allow(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(id)
	switch e.State {
	case Closed:
		return true
	case Open:
		if t.now().Sub(e.OpenedAt) >= t.cfg.Cooldown {
			// This call is the single probe half-open admits.
			e.State = HalfOpen
			e.HalfOpenPermittedProbe = false
			return true
		}
		return false
	case HalfOpen:
		if e.HalfOpenPermittedProbe {
			e.HalfOpenPermittedProbe = false
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess resets the failure count and, if half-open, closes the breaker.
func (t *Table) OnSuccess(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(id)
	e.ConsecutiveFailures = 0
	if e.State == HalfOpen || e.State == Open {
		e.State = Closed
		e.HalfOpenPermittedProbe = false
	}
}

// OnFailure increments the failure count, opening the breaker once the
// threshold is crossed (from closed) or immediately on a half-open probe
// failure.
func (t *Table) OnFailure(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(id)
	if e.State == HalfOpen {
		e.State = Open
		e.OpenedAt = t.now()
		e.HalfOpenPermittedProbe = false
		return
	}

	e.ConsecutiveFailures++
	if e.ConsecutiveFailures >= t.cfg.FailureThreshold {
		e.State = Open
		e.OpenedAt = t.now()
	}
}

// Snapshot returns a copy of the current state for id, for observability.
func (t *Table) Snapshot(id string) CircuitBreakerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(id)
}
