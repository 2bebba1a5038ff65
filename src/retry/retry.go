// Package retry runs an operation with exponential backoff between attempts.
package retry

import (
	"context"
	"time"
)

// Policy is an exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialBackoff is the wait after the first failure; it doubles after each one.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultPolicy makes 5 attempts waiting 500ms, 1s, 2s and 4s between them.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialBackoff: 500 * time.Millisecond}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// OnRetry is told about each failed attempt that will be retried.
type OnRetry func(attempt int, wait time.Duration, err error)

// Do calls fn until it succeeds, permanent reports its error as permanent,
// attempts run out or ctx is done. It returns the last error of fn and the
// number of attempts made.
func Do(ctx context.Context, p Policy, permanent func(error) bool, onRetry OnRetry, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if permanent != nil && permanent(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			return attempt, err
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return p.MaxAttempts, err
}
