// Package concurrency provides the admission-control primitive the router
// uses to bound in-flight requests per backend (spec §5): a counting
// semaphore that fails fast via TryAcquire rather than queuing callers.
package concurrency

// Semaphore is a counting semaphore backed by a buffered channel.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore builds a Semaphore allowing up to max concurrent holders.
func NewSemaphore(max int) *Semaphore {
	return &Semaphore{ch: make(chan struct{}, max)}
}

// TryAcquire acquires a slot without blocking, returning false if none is
// free. This is the path the router uses to produce BackendOverloaded
// instead of queuing (spec §5: admission decision, not a queue).
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees one slot. A Release with no matching TryAcquire is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
	}
}
