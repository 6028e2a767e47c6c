package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff returns the wait before the given retry (attempt counts from 1)
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same amount before every retry
type FixedBackoff time.Duration

// Delay implements Backoff
func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff doubles the wait after every attempt, capped at Max
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// NewBackoff builds a backoff strategy by name ("fixed" or "exponential")
func NewBackoff(kind string, delay time.Duration) Backoff {
	if kind == "exponential" {
		return ExponentialBackoff{Base: delay, Max: 8 * delay}
	}
	return FixedBackoff(delay)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryError is returned when every attempt failed
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }

// RetryPolicy runs an operation a bounded number of times
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts run out
// or ctx is done
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return &RetryError{Attempts: attempt - 1, Last: last}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return &RetryError{Attempts: attempt, Last: last}
		}
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, last)
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.Delay(attempt)
		}
		if err := sleep(ctx, delay); err != nil {
			return &RetryError{Attempts: attempt, Last: last}
		}
	}
	return &RetryError{Attempts: maxAttempts, Last: last}
}

// WithRetry runs fn up to maxAttempts times with a fixed delay between attempts
func WithRetry(ctx context.Context, fn func(ctx context.Context) error, maxAttempts int, delay time.Duration) error {
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: FixedBackoff(delay)}.Do(ctx, fn)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
