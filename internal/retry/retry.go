// Package retry provides a small reusable retry policy with
// exponential backoff, shared by the call sites that talk to flaky
// external services.
package retry

import (
	"context"
	"math"
	"time"
)

var defaultScale = 1.618

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the sleep after the first failure; each subsequent
	// delay is multiplied by Scale.
	BaseDelay time.Duration
	// Scale is the backoff multiplier. Defaults to 1.618.
	Scale float64
}

// Do runs op until it succeeds, the attempts are exhausted, the error
// is not retryable, or ctx is done. The last error is returned.
// retryable may be nil, in which case every error is retried.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	scale := p.Scale
	if scale <= 0 {
		scale = defaultScale
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		backoff := time.Duration(float64(p.BaseDelay) * math.Pow(scale, float64(i)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
