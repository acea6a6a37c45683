package search

import "context"

// Limiter bounds the number of search requests served concurrently,
// grounded on the teacher's single-in-flight-background-indexing-run
// discipline (internal/async.BackgroundIndexer) generalized from a
// hard limit of one to a configurable capacity, and built on a
// buffered channel semaphore rather than golang.org/x/sync/semaphore
// so this package adds no dependency beyond the standard library for
// a concern this small.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter builds a Limiter allowing at most capacity concurrent
// Acquire holders. capacity <= 0 means unlimited.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		return &Limiter{}
	}
	return &Limiter{sem: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done, whichever comes
// first. The returned release func must be called exactly once to
// free the slot; it is a no-op once ctx has already failed Acquire.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l.sem == nil {
		return func() {}, nil
	}
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// InUse reports how many slots are currently held, for health/metrics
// reporting.
func (l *Limiter) InUse() int {
	if l.sem == nil {
		return 0
	}
	return len(l.sem)
}
