// Package reviewsync delivers study-session ratings to the review endpoint in
// the background.
//
// Every Enqueue starts an independent task that retries on a fixed backoff
// schedule. A task that exhausts its attempts is parked in a failed set until
// RetryAll dispatches it again. Nothing here blocks the caller.
package reviewsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

var syncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "knoldeck_sync_attempts_total",
	Help: "Review delivery attempts by outcome (success, retry, exhausted).",
}, []string{"outcome"})

// DefaultDelays is the wait before the second, third and fourth attempt.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Transport sends one rating to the review endpoint. Any error is retried.
type Transport interface {
	SubmitReview(ctx context.Context, cardID string, rating sm2.Rating) error
}

// Clock abstracts the backoff timer.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Status is where a task currently sits.
type Status string

const (
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Task is a snapshot of one rating delivery.
type Task struct {
	ID       string
	CardID   string
	Rating   sm2.Rating
	Attempts int
	Status   Status
	// Err is set once the task has failed permanently. It wraps
	// domain.ErrPermanentSyncFailure and the last transport error.
	Err error
}

// Coordinator owns all in-flight and failed tasks. Its methods are safe for
// concurrent use.
type Coordinator struct {
	transport Transport
	clock     Clock
	delays    []time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]*Task
	failed   []*Task
	// idle is closed whenever inFlight is empty.
	idle chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock used for backoff.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithDelays sets the backoff schedule. A task gets len(delays)+1 attempts.
func WithDelays(delays []time.Duration) Option {
	return func(c *Coordinator) { c.delays = append([]time.Duration(nil), delays...) }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator returns a Coordinator delivering through transport.
func NewCoordinator(transport Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: transport,
		clock:     realClock{},
		delays:    append([]time.Duration(nil), DefaultDelays...),
		logger:    slog.Default(),
		inFlight:  make(map[string]*Task),
		idle:      make(chan struct{}),
	}
	close(c.idle)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue starts delivering rating for cardID and returns immediately.
// Enqueueing the same pair twice creates two independent tasks.
func (c *Coordinator) Enqueue(cardID string, rating sm2.Rating) {
	t := &Task{
		ID:     uuid.NewString(),
		CardID: cardID,
		Rating: rating,
		Status: StatusSyncing,
	}
	c.mu.Lock()
	c.track(t)
	c.mu.Unlock()

	go c.run(t)
}

// RetryAll moves every failed task back to syncing with its attempt counter
// reset and dispatches it again. The failed set is empty when RetryAll
// returns; a task that exhausts its attempts again is re-added. It returns
// the number of tasks dispatched.
func (c *Coordinator) RetryAll() int {
	c.mu.Lock()
	tasks := c.failed
	c.failed = nil
	for _, t := range tasks {
		t.Attempts = 0
		t.Status = StatusSyncing
		t.Err = nil
		c.track(t)
	}
	c.mu.Unlock()

	for _, t := range tasks {
		c.logger.Info("retrying review sync", "task_id", t.ID, "card_id", t.CardID)
		go c.run(t)
	}
	return len(tasks)
}

// HasSyncError reports whether any task is in the failed set.
func (c *Coordinator) HasSyncError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed) > 0
}

// FailedCount is the size of the failed set.
func (c *Coordinator) FailedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed)
}

// ListFailed returns the failed tasks in the order they failed.
func (c *Coordinator) ListFailed() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, len(c.failed))
	for i, t := range c.failed {
		out[i] = *t
	}
	return out
}

// InFlight is the number of tasks still syncing.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Wait blocks until no task is syncing or ctx is done. The coordinator stays
// usable after a cancelled Wait.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track and untrack must be called with mu held.
func (c *Coordinator) track(t *Task) {
	if len(c.inFlight) == 0 {
		c.idle = make(chan struct{})
	}
	c.inFlight[t.ID] = t
}

func (c *Coordinator) untrack(t *Task) {
	delete(c.inFlight, t.ID)
	if len(c.inFlight) == 0 {
		close(c.idle)
	}
}

func (c *Coordinator) run(t *Task) {
	// Outstanding deliveries have no observer to cancel them.
	ctx := context.Background()
	for {
		err := c.transport.SubmitReview(ctx, t.CardID, t.Rating)

		c.mu.Lock()
		t.Attempts++
		attempt := t.Attempts
		if err == nil {
			c.untrack(t)
			c.mu.Unlock()
			syncAttempts.WithLabelValues("success").Inc()
			return
		}
		if attempt > len(c.delays) {
			t.Status = StatusFailed
			t.Err = fmt.Errorf("%w: card %s after %d attempts: %w", domain.ErrPermanentSyncFailure, t.CardID, attempt, err)
			c.untrack(t)
			c.failed = append(c.failed, t)
			c.mu.Unlock()
			syncAttempts.WithLabelValues("exhausted").Inc()
			c.logger.Error("review sync failed permanently",
				"task_id", t.ID, "card_id", t.CardID, "attempts", attempt, "error", err)
			return
		}
		c.mu.Unlock()

		delay := c.delays[attempt-1]
		syncAttempts.WithLabelValues("retry").Inc()
		c.logger.Warn("review sync attempt failed",
			"task_id", t.ID, "card_id", t.CardID, "attempt", attempt, "retry_in", delay, "error", err)
		<-c.clock.After(delay)
	}
}
