// Package retry provides a shared exponential-backoff helper encoding the
// "base 100ms, multiplier 2, >= 3 attempts" policy from spec §5. No other
// package in this repository calls it: the inventory engine runs its own
// 100*n ms retry loop, the payment HTTP client makes a single attempt per
// request, and the Kafka consumer does not retry.
package retry

import (
	"context"
	"time"
)

// Policy is a bounded exponential backoff: Base * Multiplier^(attempt-1),
// capped at MaxAttempts tries total.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts int
}

// Default is the spec §5 policy: base 100ms, multiplier 2, >= 3 attempts.
var Default = Policy{Base: 100 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}

// Delay returns the backoff duration before the given attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Do invokes fn up to p.MaxAttempts times, sleeping Delay(attempt) between
// tries. fn signals a retryable failure by returning retry=true; a
// non-retryable error or the context's cancellation stops immediately.
func (p Policy) Do(ctx context.Context, fn func(attempt int) (retry bool, err error)) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		retryable, err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}
