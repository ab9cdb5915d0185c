package sm2

import (
	"fmt"
	"math"
	"time"
)

// Rating is the user's response to a card review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// Ratings lists every valid rating in severity order.
var Ratings = []Rating{Again, Hard, Good, Easy}

// String returns the name of the rating, or "Rating(n)" for invalid values.
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// IsValid reports whether r is one of Again, Hard, Good or Easy.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

const (
	DefaultEaseFactor = 2.5
	MinEaseFactor     = 1.3

	againEasePenalty = 0.20
	hardEasePenalty  = 0.15
	easyEaseBonus    = 0.15
	hardGrowth       = 1.2
	easyBonus        = 1.3
)

// DateLayout is the wire and storage format of a review date.
const DateLayout = "2006-01-02"

// State is the scheduling state of a card.
type State struct {
	EaseFactor     float64 `validate:"gte=1.3"`
	IntervalDays   int     `validate:"gte=0"`
	Repetitions    int     `validate:"gte=0"`
	NextReviewDate time.Time
}

// NewState returns the scheduling state a freshly created card starts with:
// due on the day it was created.
func NewState(created time.Time) State {
	return State{
		EaseFactor:     DefaultEaseFactor,
		NextReviewDate: Day(created),
	}
}

// Day truncates t to midnight UTC of its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Schedule computes the state that follows a review with the given rating.
// The next review date is referenceDate's UTC day plus the new interval.
// Malformed input is normalised rather than rejected, and an unknown rating
// leaves the counters untouched.
func Schedule(state State, rating Rating, referenceDate time.Time) State {
	ease, interval, reps := normalize(state)

	switch rating {
	case Again:
		reps = 0
		interval = 1
		ease = math.Max(MinEaseFactor, ease-againEasePenalty)
	case Hard:
		interval = max(1, roundDays(float64(interval)*hardGrowth))
		ease = math.Max(MinEaseFactor, ease-hardEasePenalty)
	case Good:
		reps++
		switch reps {
		case 1:
			interval = 1
		case 2:
			interval = 6
		default:
			interval = roundDays(float64(interval) * ease)
		}
	case Easy:
		reps++
		interval = roundDays(float64(interval) * ease * easyBonus)
		ease += easyEaseBonus
	}

	return State{
		EaseFactor:     roundEase(ease),
		IntervalDays:   interval,
		Repetitions:    reps,
		NextReviewDate: NextReviewDate(referenceDate, interval),
	}
}

// NextReviewDate returns the UTC day intervalDays after referenceDate.
func NextReviewDate(referenceDate time.Time, intervalDays int) time.Time {
	return Day(referenceDate).AddDate(0, 0, intervalDays)
}

func normalize(s State) (float64, int, int) {
	ease := s.EaseFactor
	if math.IsNaN(ease) || ease < MinEaseFactor {
		ease = MinEaseFactor
	}
	return ease, max(0, s.IntervalDays), max(0, s.Repetitions)
}

// roundDays rounds half away from zero.
func roundDays(days float64) int {
	return int(math.Round(days))
}

func roundEase(ease float64) float64 {
	return math.Round(ease*100) / 100
}
