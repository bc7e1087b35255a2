package trade

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often a transient failure is retried.
// Delays grow geometrically from BaseDelay by BackoffFactor, capped at
// MaxDelay when MaxDelay > 0.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryPolicy is three attempts, 200ms then 400ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     200 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      2 * time.Second,
	}
}

// NoRetry makes one attempt.
func NoRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

// Delay returns the wait before retry number n (n >= 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < n; i++ {
		d *= factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. It returns the last error from fn.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := retryValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func retryValue[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !IsRetryable(err) || attempt >= attempts {
			return v, err
		}

		delay := p.Delay(attempt)
		slog.DebugContext(ctx, "retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
		if delay <= 0 {
			if ctx.Err() != nil {
				return v, err
			}
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, err
		case <-t.C:
		}
	}
}
