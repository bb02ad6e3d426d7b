package llm

import (
	"context"
	"time"

	"winterfox/internal/logging"
)

// RetryPolicy controls backoff for transient provider errors.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Attempts  int
}

// DefaultRetryPolicy retries 3 times with exponential backoff from 2s,
// capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 2 * time.Second,
		MaxDelay:  10 * time.Second,
		Attempts:  3,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, or
// exhausts attempts. Auth and permanent errors return immediately.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.BaseDelay * time.Duration(1<<uint(attempt-1))
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		logging.API("%s attempt %d/%d failed, retrying in %v: %v",
			operation, attempt, p.Attempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
