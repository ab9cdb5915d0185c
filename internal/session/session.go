// Package session models a single study session over a deck's due cards.
//
// A State is an immutable snapshot: Reveal and Rate return a new State and
// leave the receiver untouched, so a session can be inspected step by step
// without any UI attached. Controller owns the current snapshot and forwards
// every rating to a Dispatcher.
package session

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

var (
	ErrSessionComplete = errors.New("session: no cards left to study")
	ErrNotRevealed     = errors.New("session: answer must be revealed before rating")
)

// State is one snapshot of a study session.
type State struct {
	queue        []domain.DueCard
	revealed     bool
	reviewed     int
	ratingCounts [sm2.Easy + 1]int
	totalCards   int
}

// New starts a session over cards in a uniformly random order. rng may be
// nil to use the global random source. The input slice is not modified.
func New(cards []domain.DueCard, rng *rand.Rand) State {
	queue := make([]domain.DueCard, len(cards))
	copy(queue, cards)
	shuffle(queue, rng)
	return State{queue: queue, totalCards: len(cards)}
}

// shuffle is a Fisher-Yates shuffle: every position, scanning from the end,
// swaps with a uniformly chosen index at or before it.
func shuffle(cards []domain.DueCard, rng *rand.Rand) {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	for i := len(cards) - 1; i > 0; i-- {
		j := intN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// Reveal shows the answer of the current card. Revealing twice, or revealing
// a complete session, returns the state unchanged.
func (s State) Reveal() State {
	if s.IsComplete() {
		return s
	}
	s.revealed = true
	return s
}

// Rate records a rating for the revealed current card and advances the queue.
// An Again rating sends the same card to the back of the queue to be shown
// again later in the session; any other rating removes it.
func (s State) Rate(rating sm2.Rating) (State, error) {
	if !rating.IsValid() {
		return s, fmt.Errorf("%w: rating %d", domain.ErrInvalidInput, int(rating))
	}
	if s.IsComplete() {
		return s, ErrSessionComplete
	}
	if !s.revealed {
		return s, ErrNotRevealed
	}

	head := s.queue[0]
	rest := s.queue[1:]
	queue := make([]domain.DueCard, 0, len(s.queue))
	queue = append(queue, rest...)
	if rating == sm2.Again {
		queue = append(queue, head)
	}

	s.queue = queue
	s.revealed = false
	s.reviewed++
	s.ratingCounts[rating]++
	return s, nil
}

// CurrentCard returns the card at the head of the queue.
func (s State) CurrentCard() (domain.DueCard, bool) {
	if s.IsComplete() {
		return domain.DueCard{}, false
	}
	return s.queue[0], true
}

// IsRevealed reports whether the current card's answer is showing.
func (s State) IsRevealed() bool { return s.revealed }

// RemainingCount is the number of passes left in the queue.
func (s State) RemainingCount() int { return len(s.queue) }

// IsComplete reports whether the queue is empty.
func (s State) IsComplete() bool { return len(s.queue) == 0 }

// ReviewedCount is the number of ratings given so far, requeued passes included.
func (s State) ReviewedCount() int { return s.reviewed }

// RatingCount is the number of times rating was given this session.
func (s State) RatingCount(rating sm2.Rating) int {
	if !rating.IsValid() {
		return 0
	}
	return s.ratingCounts[rating]
}

// TotalCards is the number of distinct cards the session started with.
func (s State) TotalCards() int { return s.totalCards }
