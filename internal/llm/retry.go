package llm

import (
	"context"
	"time"
)

// Do executes fn up to attempts times, sleeping between attempts with
// exponential backoff starting at baseDelay (doubling after each failure).
// The sleep is context-aware; cancellation during backoff returns ctx.Err().
// Exhausting all attempts returns the last error.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
