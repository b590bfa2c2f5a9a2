// Package retry provides a shared exponential backoff helper used by both
// chain observers and the withdrawal executor.
package retry

import (
	"context"
	"time"
)

// Backoff computes capped exponential delays.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff mirrors the observer/executor retry cadence: start at 1s,
// cap at 1m, double each attempt.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       1 * time.Second,
		Max:        1 * time.Minute,
		Multiplier: 2.0,
	}
}

// Delay returns the delay to wait before attempt number n (0-indexed: the
// delay before the first retry, i.e. after the first failure, is Delay(0)).
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := float64(b.Base)
	for i := 0; i < n; i++ {
		delay *= b.Multiplier
		if delay > float64(b.Max) {
			return b.Max
		}
	}
	d := time.Duration(delay)
	if d > b.Max {
		return b.Max
	}
	return d
}

// Do runs fn until it succeeds or maxAttempts is reached, sleeping Delay(n)
// between attempts. It stops early if ctx is cancelled.
func Do(ctx context.Context, maxAttempts int, b Backoff, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return err
}
