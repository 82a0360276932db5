// Package retry runs idempotent operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy bounds the number of attempts and the backoff between them.
type Policy struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Retryable reports whether err is transient. Nil means every error except
	// context cancellation is retried.
	Retryable func(err error) bool
}

// Default is used for feed and chat reads.
var Default = Policy{
	Attempts:    3,
	BaseBackoff: 100 * time.Millisecond,
	MaxBackoff:  2 * time.Second,
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts
// are exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return err
		}
	}

	return err
}

// Backoff returns the wait before the given retry (1-based), doubling from
// BaseBackoff and capped at MaxBackoff.
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	backoff := time.Duration(math.Pow(2, float64(retry-1))) * p.BaseBackoff
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff <= 0) {
		backoff = p.MaxBackoff
	}
	return backoff
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}
