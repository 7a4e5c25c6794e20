// Package rate gates outbound remote-API calls behind a request-rate ceiling
// and a concurrency bound. Every Gmail call the engine makes passes through
// a Limiter; the client adapter itself stays a stateless transport.
package rate

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds both the long-run request rate and the number of calls in
// flight. Safe for concurrent use. Admission is FIFO: callers queue on the
// concurrency slot first, then on the rate token.
type Limiter struct {
	rl  *rate.Limiter
	sem *semaphore.Weighted
}

// New returns a Limiter allowing rps requests per second (with burst capacity
// burst, minimum 1) and at most concurrency calls in flight.
func New(rps float64, burst, concurrency int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Limiter{
		rl:  rate.NewLimiter(rate.Limit(rps), burst),
		sem: semaphore.NewWeighted(int64(concurrency)),
	}
}

// Acquire blocks until a concurrency slot and a rate token are available, or
// the context is done. Every successful Acquire must be paired with a
// Release once the remote call has completed, success or failure.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rate: acquire slot: %w", err)
	}
	if err := l.rl.Wait(ctx); err != nil {
		l.sem.Release(1)
		return fmt.Errorf("rate: wait for token: %w", err)
	}
	return nil
}

// Release returns the concurrency slot taken by a successful Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Do runs fn while holding a slot. It is shorthand for Acquire/defer Release
// around a single remote call.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}
