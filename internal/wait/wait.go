// Package wait polls conditions at a fixed interval under an explicit
// deadline. It replaces every fixed sleep in docprobe.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the poll interval used when callers pass zero.
const DefaultInterval = 100 * time.Millisecond

// evalGrace is the least time a single evaluation of a condition gets,
// even when it starts at or after the wait deadline.
const evalGrace = time.Second

// Outcome reports how a wait ended. Satisfied is false only when the
// deadline passed; in that case Elapsed >= the requested timeout.
type Outcome struct {
	Satisfied bool
	Elapsed   time.Duration
}

// TimedOut is the negation of Satisfied.
func (o Outcome) TimedOut() bool { return !o.Satisfied }

func (o Outcome) String() string {
	if o.Satisfied {
		return fmt.Sprintf("satisfied after %s", o.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("timed out after %s", o.Elapsed.Round(time.Millisecond))
}

// Condition is polled until it returns true. A non-nil error aborts the
// wait.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it holds
// or timeout has elapsed. A non-positive timeout evaluates cond once.
//
// cond receives a context that outlives the deadline by one interval (at
// least evalGrace), so the evaluation at or after the deadline still runs
// against a live context. If cond fails because that bound passed, the
// wait counts as timed out rather than failed. Cancellation of ctx itself
// returns ctx.Err().
func Until(ctx context.Context, timeout, interval time.Duration, cond Condition) (Outcome, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()
	deadline := start.Add(timeout)

	pollCtx, cancel := context.WithDeadline(ctx, deadline.Add(max(interval, evalGrace)))
	defer cancel()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Elapsed: time.Since(start)}, err
		}

		ok, err := cond(pollCtx)
		now := time.Now()
		elapsed := now.Sub(start)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && (pollCtx.Err() != nil || !now.Before(deadline)) {
				return Outcome{Elapsed: elapsed}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{Elapsed: elapsed}, ctxErr
			}
			return Outcome{Elapsed: elapsed}, err
		}
		if ok {
			return Outcome{Satisfied: true, Elapsed: elapsed}, nil
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return Outcome{Elapsed: elapsed}, nil
		}

		sleep := min(interval, remaining)
		if timer == nil {
			timer = time.NewTimer(sleep)
		} else {
			timer.Reset(sleep)
		}
		select {
		case <-ctx.Done():
			return Outcome{Elapsed: time.Since(start)}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Value polls get until accept holds for the returned value and returns the
// last value observed, whether or not the wait was satisfied.
func Value[T any](ctx context.Context, timeout, interval time.Duration, get func(ctx context.Context) (T, error), accept func(T) bool) (T, Outcome, error) {
	var last T
	out, err := Until(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		v, err := get(ctx)
		if err != nil {
			return false, err
		}
		last = v
		return accept(v), nil
	})
	return last, out, err
}

// Stable polls get until two consecutive polls return equal values that
// also satisfy accept (nil accepts anything).
func Stable[T comparable](ctx context.Context, timeout, interval time.Duration, get func(ctx context.Context) (T, error), accept func(T) bool) (T, Outcome, error) {
	var (
		last T
		seen bool
	)
	out, err := Until(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		v, err := get(ctx)
		if err != nil {
			return false, err
		}
		same := seen && v == last
		last, seen = v, true
		return same && (accept == nil || accept(v)), nil
	})
	return last, out, err
}
