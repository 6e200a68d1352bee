package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noop(context.Context) error { return nil }

func TestNewRejectsBadTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	assert.ErrorContains(t, err, "invalid timezone")
}

func TestAddJob(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	require.NoError(t, s.AddJob("suite", "0 */6 * * *", noop))
	assert.ErrorContains(t, s.AddJob("suite", "@hourly", noop), "already scheduled")
	assert.ErrorContains(t, s.AddJob("bad", "every tuesday", noop), "failed to schedule job bad")

	require.NoError(t, s.AddJob("nightly", "@daily", noop))
	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "nightly", jobs[0].Name)
	assert.Equal(t, "0 */6 * * *", jobs[1].Schedule)

	assert.True(t, s.RemoveJob("nightly"))
	assert.False(t, s.RemoveJob("nightly"))
	assert.Len(t, s.ListJobs(), 1)
}

func TestRunNow(t *testing.T) {
	s, err := New("UTC", WithJobTimeout(time.Second))
	require.NoError(t, err)

	var deadline time.Time
	require.NoError(t, s.AddJob("suite", "@daily", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return errors.New("2 scenarios failed")
	}))

	err = s.RunNow(context.Background(), "suite")
	assert.EqualError(t, err, "2 scenarios failed")
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)
}

func TestNextRunHonoursTimezone(t *testing.T) {
	s, err := New("America/New_York")
	require.NoError(t, err)
	require.NoError(t, s.AddJob("morning", "0 7 * * *", noop))

	s.Start(context.Background())
	defer func() { <-s.Stop().Done() }()

	next, err := s.NextRun("morning")
	require.NoError(t, err)
	local := next.In(s.timezone)
	assert.Equal(t, 7, local.Hour())
	assert.Equal(t, 0, local.Minute())

	_, err = s.NextRun("evening")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduledJobRuns(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	<-s.Stop().Done()

	info := s.ListJobs()
	require.Len(t, info, 1)
	assert.False(t, info[0].LastRun.IsZero())
}

func TestJobContextCancelledWithStart(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 4)
	require.NoError(t, s.AddJob("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	<-s.Stop().Done()
}

func TestRunNowDoesNotOverlapScheduledRun(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	var runs atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	require.NoError(t, s.AddJob("suite", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	manual := make(chan error, 1)
	go func() { manual <- s.RunNow(context.Background(), "suite") }()
	<-entered

	assert.ErrorIs(t, s.RunNow(context.Background(), "suite"), ErrJobRunning)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return !s.ListJobs()[0].LastRun.IsZero()
	}, 3*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1, runs.Load(), "scheduled firing ran alongside RunNow")

	close(release)
	require.NoError(t, <-manual)
	<-s.Stop().Done()
}
