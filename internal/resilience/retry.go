// Package resilience holds the retry policy used for store and index calls.
package resilience

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, waiting backoff, then twice that, between tries.
// It stops early when ctx is done and returns the last error.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	wait := backoff
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
		wait *= 2
	}
	return err
}
