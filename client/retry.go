package client

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Ceiling  time.Duration
}

// DefaultRetryPolicy retries a conflicting operation five times, starting at 20ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Initial: 20 * time.Millisecond, Ceiling: time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Initial << attempt
	if d <= 0 || d > p.Ceiling {
		d = p.Ceiling
	}
	// full jitter
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Retry calls fn until it succeeds, returns an error that is not retryable, or the attempts run out.
// Only conflicts such as RESOURCE_BUSY and VERSION_CONFLICT are retried.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var ret T
		ret, err = fn(ctx)
		if err == nil {
			return ret, nil
		}
		if !errors2.Retryable(err) || attempt == p.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry: %w", ctx.Err())
		case <-time.After(p.delay(attempt)):
		}
	}
	return zero, err
}
