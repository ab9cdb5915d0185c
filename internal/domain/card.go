package domain

import (
	"time"

	"github.com/conorfennell/knoldeck/internal/sm2"
)

// Deck is a named collection of cards owned by one user.
type Deck struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Card is a front/back pair together with its scheduling state.
type Card struct {
	ID        string
	DeckID    string
	Front     string
	Back      string
	State     sm2.State
	CreatedAt time.Time
}

// DueCard is the view of a card a study session works with: its content and
// a snapshot of its scheduling state taken when the session started.
type DueCard struct {
	ID    string
	Front string
	Back  string
	State sm2.State
}

// ReviewRecord is the immutable audit entry written once per submitted review.
// The scheduling fields hold the values after the review was applied.
type ReviewRecord struct {
	ID                string
	CardID            string
	Rating            sm2.Rating
	EaseFactorAfter   float64
	IntervalDaysAfter int
	RepetitionsAfter  int
	ReviewedAt        time.Time
}
