package wait

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func always(v bool) Condition {
	return func(context.Context) (bool, error) { return v, nil }
}

func TestUntilTrueReturnsWithinOneInterval(t *testing.T) {
	interval := 50 * time.Millisecond
	out, err := Until(context.Background(), time.Second, interval, always(true))
	require.NoError(t, err)
	assert.True(t, out.Satisfied)
	assert.LessOrEqual(t, out.Elapsed, interval)
}

func TestUntilFalseTimesOutNoEarlierThanDeadline(t *testing.T) {
	timeout := 120 * time.Millisecond
	out, err := Until(context.Background(), timeout, 25*time.Millisecond, always(false))
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
	assert.GreaterOrEqual(t, out.Elapsed, timeout)
}

func TestUntilDeadlinesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		timeout := time.Duration(rapid.IntRange(0, 40).Draw(t, "timeout_ms")) * time.Millisecond
		interval := time.Duration(rapid.IntRange(1, 15).Draw(t, "interval_ms")) * time.Millisecond
		trueAfter := rapid.IntRange(0, 6).Draw(t, "true_after")

		var calls atomic.Int32
		out, err := Until(context.Background(), timeout, interval, func(context.Context) (bool, error) {
			return int(calls.Add(1)) > trueAfter, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.Satisfied && out.Elapsed < timeout {
			t.Fatalf("timed out early: elapsed %s < timeout %s", out.Elapsed, timeout)
		}
		if calls.Load() < 1 {
			t.Fatalf("condition never evaluated")
		}
	})
}

func TestUntilNonPositiveTimeoutEvaluatesOnce(t *testing.T) {
	var calls int
	out, err := Until(context.Background(), 0, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Satisfied)
	assert.Equal(t, 1, calls)
}

// live is true while the context handed to the condition is still usable,
// the way a browser call checks ctx before doing any work.
func live(want func() bool) Condition {
	return func(ctx context.Context) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return want(), nil
	}
}

func TestUntilZeroTimeoutPassesLiveContext(t *testing.T) {
	out, err := Until(context.Background(), 0, 10*time.Millisecond, live(func() bool { return true }))
	require.NoError(t, err)
	assert.True(t, out.Satisfied)
}

func TestUntilFinalEvaluationAtDeadline(t *testing.T) {
	timeout := 40 * time.Millisecond
	start := time.Now()
	out, err := Until(context.Background(), timeout, 25*time.Millisecond, live(func() bool {
		return time.Since(start) >= timeout
	}))
	require.NoError(t, err)
	assert.True(t, out.Satisfied)
	assert.GreaterOrEqual(t, out.Elapsed, timeout)
}

func TestUntilConditionErrorAborts(t *testing.T) {
	boom := errors.New("page gone")
	_, err := Until(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUntilDeadlineInsideConditionIsTimeout(t *testing.T) {
	timeout := 30 * time.Millisecond
	out, err := Until(context.Background(), timeout, 5*time.Millisecond, func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
	assert.GreaterOrEqual(t, out.Elapsed, timeout)
}

func TestUntilParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Until(ctx, time.Minute, 5*time.Millisecond, always(false))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValueReturnsLastObserved(t *testing.T) {
	var n atomic.Int32
	v, out, err := Value(context.Background(), time.Second, time.Millisecond,
		func(context.Context) (int32, error) { return n.Add(1), nil },
		func(v int32) bool { return v >= 3 })
	require.NoError(t, err)
	assert.True(t, out.Satisfied)
	assert.Equal(t, int32(3), v)
}

func TestStableWaitsForRepeat(t *testing.T) {
	seq := []string{"", "Load", "Loading", "Loaded", "Loaded"}
	var i int
	v, out, err := Stable(context.Background(), time.Second, time.Millisecond,
		func(context.Context) (string, error) {
			s := seq[min(i, len(seq)-1)]
			i++
			return s, nil
		},
		func(s string) bool { return s != "" })
	require.NoError(t, err)
	assert.True(t, out.Satisfied)
	assert.Equal(t, "Loaded", v)
}
