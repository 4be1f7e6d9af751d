package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/testutil"
)

func testConfig() Config {
	return Config{
		TickInterval: 5 * time.Millisecond,
		JobTimeout:   time.Second,
		DrainTimeout: time.Second,
	}
}

func statsFor(t *testing.T, s *Scheduler, name string) JobStats {
	t.Helper()
	for _, st := range s.Stats() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("no stats for job %q", name)
	return JobStats{}
}

func TestAddValidation(t *testing.T) {
	s := New(testConfig())
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, s.Add(Job{Interval: time.Second, Run: noop}), cserrors.ErrMissingField)
	assert.ErrorIs(t, s.Add(Job{Name: "a", Interval: time.Second}), cserrors.ErrMissingField)
	assert.ErrorIs(t, s.Add(Job{Name: "a", Run: noop}), cserrors.ErrInvalidInput)

	require.NoError(t, s.Add(Job{Name: "a", Interval: time.Second, Run: noop}))
	assert.ErrorIs(t, s.Add(Job{Name: "a", Interval: time.Second, Run: noop}), cserrors.ErrAlreadyExists)
	assert.Equal(t, 1, s.Count())

	assert.ErrorIs(t, s.Trigger("missing"), cserrors.ErrNotFound)
}

func TestRunsOnInterval(t *testing.T) {
	s := New(testConfig())
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	require.NoError(t, testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return runs.Load() >= 3
	}))
	st := statsFor(t, s, "tick")
	assert.GreaterOrEqual(t, st.Runs, int64(3))
	assert.Zero(t, st.Failures)
}

func TestRunOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = true
	s := New(cfg)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{
		Name:     "daily",
		Interval: 24 * time.Hour,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestNoRunBeforeInterval(t *testing.T) {
	s := New(testConfig())
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "daily",
		Interval: 24 * time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, runs.Load())
	assert.True(t, statsFor(t, s, "daily").NextRun.After(time.Now()))
}

func TestTrigger(t *testing.T) {
	s := New(testConfig())
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "daily",
		Interval: 24 * time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	require.NoError(t, s.Trigger("daily"))
	require.NoError(t, testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return runs.Load() == 1
	}))
}

func TestNoOverlap(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = true
	s := New(cfg)

	var inFlight, maxInFlight, runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			runs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	}))

	s.Start()
	require.NoError(t, testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return runs.Load() >= 3
	}))
	s.Stop()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Positive(t, statsFor(t, s, "slow").Skipped)
}

func TestJobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = true
	cfg.JobTimeout = 20 * time.Millisecond
	s := New(cfg)

	errs := make(chan error, 1)
	require.NoError(t, s.Add(Job{
		Name:     "stuck",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			errs <- ctx.Err()
			return ctx.Err()
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}
	require.NoError(t, testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return statsFor(t, s, "stuck").Failures == 1
	}))
	assert.Contains(t, statsFor(t, s, "stuck").LastError, "deadline exceeded")
}

func TestFailuresAndPanicsAreRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = true
	s := New(cfg)

	require.NoError(t, s.Add(Job{
		Name:     "failing",
		Interval: time.Hour,
		Run:      func(context.Context) error { return errors.New("store unreachable") },
	}))
	require.NoError(t, s.Add(Job{
		Name:     "panicking",
		Interval: time.Hour,
		Run:      func(context.Context) error { panic("boom") },
	}))

	s.Start()
	defer s.Stop()

	require.NoError(t, testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return statsFor(t, s, "failing").Runs == 1 && statsFor(t, s, "panicking").Runs == 1
	}))

	failing := statsFor(t, s, "failing")
	assert.Equal(t, int64(1), failing.Failures)
	assert.Equal(t, "store unreachable", failing.LastError)

	panicking := statsFor(t, s, "panicking")
	assert.Equal(t, int64(1), panicking.Failures)
	assert.Equal(t, "panic: boom", panicking.LastError)
}

func TestStopCancelsAfterDrainTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = true
	cfg.JobTimeout = time.Hour
	cfg.DrainTimeout = 20 * time.Millisecond
	s := New(cfg)

	started := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:     "long",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	s.Start()
	<-started

	gt := testutil.NewGoroutineTest(t, 2*time.Second)
	gt.Go(func(context.Context) error {
		s.Stop()
		return nil
	})
	gt.Wait()

	assert.Zero(t, s.ActiveCount())
	assert.Equal(t, int64(1), statsFor(t, s, "long").Failures)
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(testConfig())
	s.Start()
	s.Stop()
	s.Stop()
}
