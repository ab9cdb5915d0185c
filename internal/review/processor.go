// Package review applies a single rating to a stored card: it schedules the
// card with SM-2, appends the audit record and persists the new state.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

var reviewsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "knoldeck_reviews_processed_total",
	Help: "Reviews persisted by the review processor, by rating.",
}, []string{"rating"})

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store is the storage collaborator the processor reads from and writes to.
// Cards the caller does not own must be reported as domain.ErrNotFound.
type Store interface {
	GetSchedulingState(ctx context.Context, cardID string) (sm2.State, error)
	SetSchedulingState(ctx context.Context, cardID string, state sm2.State) (sm2.State, error)
	AppendReviewRecord(ctx context.Context, rec domain.ReviewRecord) (domain.ReviewRecord, error)
}

// Transactor is implemented by stores that can run several calls atomically.
// When the store supports it, the audit write and the state write of one
// review commit or roll back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Result is what a successful review produced.
type Result struct {
	State  sm2.State
	Record domain.ReviewRecord
}

// Processor orchestrates one review at a time against a Store.
type Processor struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor returns a Processor backed by store.
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitReview rates a card using the current UTC day as the reference date.
//
// An invalid rating or a malformed stored state fails with
// domain.ErrInvalidInput before anything is written. A missing or foreign
// card fails with domain.ErrNotFound. Any other storage failure is wrapped
// in domain.ErrTransientIO; the processor never retries on its own.
func (p *Processor) SubmitReview(ctx context.Context, cardID string, rating sm2.Rating) (Result, error) {
	if cardID == "" {
		return Result{}, fmt.Errorf("%w: empty card id", domain.ErrInvalidInput)
	}
	if !rating.IsValid() {
		return Result{}, fmt.Errorf("%w: rating %d is not one of 1, 2, 3, 4", domain.ErrInvalidInput, int(rating))
	}

	now := p.now().UTC()
	var result Result
	apply := func(ctx context.Context) error {
		current, err := p.store.GetSchedulingState(ctx, cardID)
		if err != nil {
			return storeError("read scheduling state", err)
		}
		if err := validate.Struct(current); err != nil {
			return fmt.Errorf("%w: stored state of card %s: %v", domain.ErrInvalidInput, cardID, err)
		}

		next := sm2.Schedule(current, rating, now)

		rec, err := p.store.AppendReviewRecord(ctx, domain.ReviewRecord{
			CardID:            cardID,
			Rating:            rating,
			EaseFactorAfter:   next.EaseFactor,
			IntervalDaysAfter: next.IntervalDays,
			RepetitionsAfter:  next.Repetitions,
			ReviewedAt:        now,
		})
		if err != nil {
			return storeError("append review record", err)
		}

		saved, err := p.store.SetSchedulingState(ctx, cardID, next)
		if err != nil {
			return storeError("write scheduling state", err)
		}

		result = Result{State: saved, Record: rec}
		return nil
	}

	var err error
	if tx, ok := p.store.(Transactor); ok {
		err = tx.InTx(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidInput) && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrTransientIO) {
			err = fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		return Result{}, err
	}

	reviewsProcessed.WithLabelValues(rating.String()).Inc()
	p.logger.Debug("review persisted",
		"card_id", cardID,
		"rating", rating.String(),
		"interval_days", result.State.IntervalDays,
		"next_review", result.State.NextReviewDate.Format(sm2.DateLayout),
	)
	return result, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransientIO, op, err)
}
