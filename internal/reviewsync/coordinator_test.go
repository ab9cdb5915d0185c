package reviewsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// instantClock records every requested delay and fires at once.
type instantClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *instantClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// flakyTransport fails the first failures calls, then succeeds.
type flakyTransport struct {
	failures int64
	calls    atomic.Int64
	gate     chan struct{}
}

func (f *flakyTransport) SubmitReview(_ context.Context, _ string, _ sm2.Rating) error {
	if f.gate != nil {
		<-f.gate
	}
	if f.calls.Add(1) <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() returned an unexpected error: %v", err)
	}
}

func TestDeliveryAttempts(t *testing.T) {
	testCases := []struct {
		name         string
		failures     int64
		wantCalls    int64
		wantFailed   int
		wantDelays   []time.Duration
		wantAttempts int
	}{
		{
			name:       "succeeds first time",
			failures:   0,
			wantCalls:  1,
			wantFailed: 0,
		},
		{
			name:       "fails three times then succeeds",
			failures:   3,
			wantCalls:  4,
			wantFailed: 0,
			wantDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name:         "fails every attempt",
			failures:     100,
			wantCalls:    4,
			wantFailed:   1,
			wantDelays:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			wantAttempts: 4,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &instantClock{}
			transport := &flakyTransport{failures: tc.failures}
			c := NewCoordinator(transport, WithClock(clock), WithLogger(quietLogger()))

			c.Enqueue("card-1", sm2.Good)
			waitFor(t, c)

			if got := transport.calls.Load(); got != tc.wantCalls {
				t.Errorf("Expected %d transport calls, but got %d", tc.wantCalls, got)
			}
			if got := clock.recorded(); !slices.Equal(got, tc.wantDelays) {
				t.Errorf("Expected delays %v, but got %v", tc.wantDelays, got)
			}
			failed := c.ListFailed()
			if len(failed) != tc.wantFailed {
				t.Fatalf("Expected %d failed tasks, but got %d", tc.wantFailed, len(failed))
			}
			if c.HasSyncError() != (tc.wantFailed > 0) {
				t.Errorf("Expected HasSyncError %v, but got %v", tc.wantFailed > 0, c.HasSyncError())
			}
			if c.InFlight() != 0 {
				t.Errorf("Expected nothing in flight, but got %d", c.InFlight())
			}
			if tc.wantFailed == 0 {
				return
			}
			task := failed[0]
			if task.Attempts != tc.wantAttempts {
				t.Errorf("Expected attempts %d, but got %d", tc.wantAttempts, task.Attempts)
			}
			if task.Status != StatusFailed || task.CardID != "card-1" || task.Rating != sm2.Good {
				t.Errorf("Expected failed task for card-1 rated Good, but got %+v", task)
			}
			if !errors.Is(task.Err, domain.ErrPermanentSyncFailure) {
				t.Errorf("Expected ErrPermanentSyncFailure, but got %v", task.Err)
			}
		})
	}
}

func TestRetryAllClearsFailedSetImmediately(t *testing.T) {
	transport := &flakyTransport{failures: 4}
	c := NewCoordinator(transport, WithClock(&instantClock{}), WithLogger(quietLogger()))

	c.Enqueue("card-1", sm2.Hard)
	waitFor(t, c)
	if c.FailedCount() != 1 {
		t.Fatalf("Expected 1 failed task, but got %d", c.FailedCount())
	}
	before := c.ListFailed()[0]

	transport.gate = make(chan struct{})
	if n := c.RetryAll(); n != 1 {
		t.Fatalf("Expected RetryAll to dispatch 1 task, but got %d", n)
	}
	if c.HasSyncError() {
		t.Error("Expected the failed set to be empty right after RetryAll")
	}
	if c.InFlight() != 1 {
		t.Errorf("Expected 1 task in flight, but got %d", c.InFlight())
	}
	close(transport.gate)
	waitFor(t, c)

	if c.HasSyncError() {
		t.Errorf("Expected a successful retry to leave no failed tasks, but got %+v", c.ListFailed())
	}
	if got := transport.calls.Load(); got != 5 {
		t.Errorf("Expected 5 transport calls, but got %d", got)
	}
	if c.RetryAll() != 0 {
		t.Error("Expected RetryAll on an empty failed set to dispatch nothing")
	}
	if before.ID == "" {
		t.Error("Expected failed tasks to carry an id")
	}
}

func TestRetryAllResetsAttempts(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	clock := &instantClock{}
	c := NewCoordinator(transport, WithClock(clock), WithLogger(quietLogger()))

	c.Enqueue("card-1", sm2.Again)
	waitFor(t, c)
	first := c.ListFailed()[0]

	c.RetryAll()
	waitFor(t, c)

	failed := c.ListFailed()
	if len(failed) != 1 {
		t.Fatalf("Expected the exhausted retry to be re-added once, but got %d", len(failed))
	}
	if failed[0].ID != first.ID {
		t.Errorf("Expected the same task %s to be re-added, but got %s", first.ID, failed[0].ID)
	}
	if failed[0].Attempts != 4 {
		t.Errorf("Expected attempts to restart from zero and reach 4, but got %d", failed[0].Attempts)
	}
	if got := transport.calls.Load(); got != 8 {
		t.Errorf("Expected 8 transport calls, but got %d", got)
	}
	if got := len(clock.recorded()); got != 6 {
		t.Errorf("Expected 6 backoff waits, but got %d", got)
	}
}

func TestEnqueueDoesNotDeduplicate(t *testing.T) {
	transport := &flakyTransport{}
	c := NewCoordinator(transport, WithClock(&instantClock{}), WithLogger(quietLogger()))

	c.Enqueue("card-1", sm2.Easy)
	c.Enqueue("card-1", sm2.Easy)
	waitFor(t, c)

	if got := transport.calls.Load(); got != 2 {
		t.Errorf("Expected 2 independent deliveries, but got %d", got)
	}
}

func TestEnqueueDoesNotBlock(t *testing.T) {
	transport := &flakyTransport{gate: make(chan struct{})}
	c := NewCoordinator(transport, WithClock(&instantClock{}), WithLogger(quietLogger()))

	done := make(chan struct{})
	go func() {
		c.Enqueue("card-1", sm2.Good)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Enqueue to return while the transport is blocked")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected Wait to give up on a cancelled context, but got %v", err)
	}
	close(transport.gate)
	waitFor(t, c)
}

func TestWaitAfterCancelledWait(t *testing.T) {
	transport := &flakyTransport{gate: make(chan struct{})}
	c := NewCoordinator(transport, WithClock(&instantClock{}), WithLogger(quietLogger()))

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Expected Wait on an idle coordinator to return at once, but got %v", err)
	}

	for round := 1; round <= 3; round++ {
		c.Enqueue("card-1", sm2.Good)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := c.Wait(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Round %d: expected Wait to time out while a delivery is blocked, but got %v", round, err)
		}
		// New work after a cancelled Wait must still be waited on.
		c.Enqueue("card-2", sm2.Easy)
		if got := c.InFlight(); got != 2 {
			t.Errorf("Round %d: expected 2 tasks in flight, but got %d", round, got)
		}
		transport.gate <- struct{}{}
		transport.gate <- struct{}{}
		waitFor(t, c)
		if got := c.InFlight(); got != 0 {
			t.Errorf("Round %d: expected nothing in flight, but got %d", round, got)
		}
	}
	if got := transport.calls.Load(); got != 6 {
		t.Errorf("Expected 6 deliveries, but got %d", got)
	}
}

func TestCustomDelays(t *testing.T) {
	clock := &instantClock{}
	transport := &flakyTransport{failures: 100}
	c := NewCoordinator(transport,
		WithClock(clock),
		WithLogger(quietLogger()),
		WithDelays([]time.Duration{10 * time.Millisecond}),
	)

	c.Enqueue("card-1", sm2.Good)
	waitFor(t, c)

	if got := transport.calls.Load(); got != 2 {
		t.Errorf("Expected 2 attempts with a single delay, but got %d", got)
	}
	if got := c.ListFailed()[0].Attempts; got != 2 {
		t.Errorf("Expected attempts 2, but got %d", got)
	}
}
