package worker

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// retry runs fn up to maxAttempts times with jittered exponential backoff:
// baseDelay, then double, plus 0-50% jitter each time.
func retry(ctx context.Context, what string, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		log.Printf("%s: attempt %d/%d failed: %v", what, attempt, maxAttempts, lastErr)
		var jitter time.Duration
		if half := int64(delay / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}
