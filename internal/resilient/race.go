// Package resilient wraps adapter invocations with two orthogonal policies:
// a deadline race and retry with backoff. The two compose but stay
// independent, so a timed-out attempt still gets a fresh deadline on retry.
package resilient

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned when the deadline timer wins the race.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call exceeded %s deadline", e.Deadline)
}

// Race runs fn against a deadline timer. If the timer wins, the zero value
// and a *TimeoutError are returned; the underlying call is not cancelled,
// only ignored; its goroutine finishes into a buffered channel and is
// collected. Context cancellation from the caller also ends the race.
func Race[T any](ctx context.Context, deadline time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return zero, &TimeoutError{Deadline: deadline}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// sleepWithContext sleeps for d, returning early with ctx.Err() if the
// context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
