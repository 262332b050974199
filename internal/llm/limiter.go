// Package llm issues requests to the model backend under a shared
// concurrency budget, with per-call timeouts and retry with backoff.
package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// MaxConcurrent is the hard ceiling on simultaneous model calls, regardless
// of caller configuration. Bounds worst-case parallel spend.
const MaxConcurrent = 10

// Limiter bounds how many model calls may be in flight at once across a
// whole generation run. One Limiter is created per run and shared by every
// goroutine issuing calls.
type Limiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewLimiter creates a limiter allowing maxConcurrent simultaneous holders,
// clamped to [1, MaxConcurrent].
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxConcurrent > MaxConcurrent {
		maxConcurrent = MaxConcurrent
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(maxConcurrent)), max: int64(maxConcurrent)}
}

// Max returns the configured permit count.
func (l *Limiter) Max() int { return int(l.max) }

// RunExclusive blocks until a permit is free, runs fn, and releases the
// permit when fn returns — success or failure. Acquisition is abandoned if
// ctx is cancelled while waiting.
func (l *Limiter) RunExclusive(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
