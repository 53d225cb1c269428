// Package retry provides exponential-backoff retry logic for transient
// failures of remote calls.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 3, Delay: 250 * time.Millisecond}, func() error {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how Do behaves between attempts.
type Policy struct {
	// Attempts is the total number of attempts including the first.
	// Zero or negative means a single attempt.
	Attempts int
	// Delay is the wait before the second attempt; it doubles after every
	// failed attempt up to MaxDelay.
	Delay time.Duration
	// MaxDelay caps the per-attempt wait. Zero means no cap.
	MaxDelay time.Duration
	// Retryable classifies errors. When nil every non-nil error is retried.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is cancelled.
// The error of the last attempt is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	delay := p.Delay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.Attempts {
			return lastErr
		}

		slog.Debug("retry: attempt failed",
			"attempt", attempt, "of", p.Attempts, "err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
