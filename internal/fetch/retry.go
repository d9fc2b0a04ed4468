package fetch

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy is an explicit bounded-retry policy: attempt count, exponential
// backoff schedule with jitter, and a retryable-error predicate. Stages take
// a Policy value instead of looping ad hoc at call sites.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultPolicy retries transient errors up to five attempts with exponential
// backoff starting at 500ms, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Retryable:   IsTransient,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// bound is reached. On exhaustion the last transient error is returned with
// Exhausted set so callers record it as a per-identifier failure instead of
// retrying further.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}

	var te *TransientError
	if errors.As(err, &te) {
		return &TransientError{Err: te.Err, Exhausted: true}
	}
	return err
}

// backoff returns the delay before the next attempt: base * 2^(attempt-1),
// capped at MaxDelay, with up to 50% random jitter added.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

