package sm2

import (
	"math"
	"testing"
	"time"
)

var today = time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSchedule(t *testing.T) {
	testCases := []struct {
		name     string
		state    State
		rating   Rating
		expected State
	}{
		{
			name:     "Again on a new card",
			state:    State{EaseFactor: 2.5},
			rating:   Again,
			expected: State{EaseFactor: 2.3, IntervalDays: 1, Repetitions: 0, NextReviewDate: date(2026, 2, 28)},
		},
		{
			name:     "Again resets a mature card",
			state:    State{EaseFactor: 2.5, IntervalDays: 30, Repetitions: 5},
			rating:   Again,
			expected: State{EaseFactor: 2.3, IntervalDays: 1, Repetitions: 0, NextReviewDate: date(2026, 2, 28)},
		},
		{
			name:     "Again floors ease at 1.3",
			state:    State{EaseFactor: 1.4, IntervalDays: 3, Repetitions: 2},
			rating:   Again,
			expected: State{EaseFactor: 1.3, IntervalDays: 1, Repetitions: 0, NextReviewDate: date(2026, 2, 28)},
		},
		{
			name:     "Hard grows interval by 1.2",
			state:    State{EaseFactor: 2.5, IntervalDays: 10, Repetitions: 3},
			rating:   Hard,
			expected: State{EaseFactor: 2.35, IntervalDays: 12, Repetitions: 3, NextReviewDate: date(2026, 3, 11)},
		},
		{
			name:     "Hard clamps interval to at least one day",
			state:    State{EaseFactor: 2.5},
			rating:   Hard,
			expected: State{EaseFactor: 2.35, IntervalDays: 1, Repetitions: 0, NextReviewDate: date(2026, 2, 28)},
		},
		{
			name:     "Hard floors ease at 1.3",
			state:    State{EaseFactor: 1.35, IntervalDays: 5, Repetitions: 2},
			rating:   Hard,
			expected: State{EaseFactor: 1.3, IntervalDays: 6, Repetitions: 2, NextReviewDate: date(2026, 3, 5)},
		},
		{
			name:     "Good first repetition",
			state:    State{EaseFactor: 2.5},
			rating:   Good,
			expected: State{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 1, NextReviewDate: date(2026, 2, 28)},
		},
		{
			name:     "Good second repetition",
			state:    State{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 1},
			rating:   Good,
			expected: State{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2, NextReviewDate: date(2026, 3, 5)},
		},
		{
			name:     "Good third repetition multiplies by ease",
			state:    State{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2},
			rating:   Good,
			expected: State{EaseFactor: 2.5, IntervalDays: 15, Repetitions: 3, NextReviewDate: date(2026, 3, 14)},
		},
		{
			name:     "Easy rounds half away from zero",
			state:    State{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2},
			rating:   Easy,
			expected: State{EaseFactor: 2.65, IntervalDays: 20, Repetitions: 3, NextReviewDate: date(2026, 3, 19)},
		},
		{
			name:     "Easy on a new card keeps a zero interval",
			state:    State{EaseFactor: 2.5},
			rating:   Easy,
			expected: State{EaseFactor: 2.65, IntervalDays: 0, Repetitions: 1, NextReviewDate: date(2026, 2, 27)},
		},
		{
			name:     "Easy has no ease ceiling",
			state:    State{EaseFactor: 4.0, IntervalDays: 10, Repetitions: 6},
			rating:   Easy,
			expected: State{EaseFactor: 4.15, IntervalDays: 52, Repetitions: 7, NextReviewDate: date(2026, 4, 20)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Schedule(tc.state, tc.rating, today)
			if got.EaseFactor != tc.expected.EaseFactor {
				t.Errorf("Expected ease factor %.2f, but got %v", tc.expected.EaseFactor, got.EaseFactor)
			}
			if got.IntervalDays != tc.expected.IntervalDays {
				t.Errorf("Expected interval %d, but got %d", tc.expected.IntervalDays, got.IntervalDays)
			}
			if got.Repetitions != tc.expected.Repetitions {
				t.Errorf("Expected repetitions %d, but got %d", tc.expected.Repetitions, got.Repetitions)
			}
			if !got.NextReviewDate.Equal(tc.expected.NextReviewDate) {
				t.Errorf("Expected next review %s, but got %s",
					tc.expected.NextReviewDate.Format(DateLayout), got.NextReviewDate.Format(DateLayout))
			}
		})
	}
}

func TestScheduleGoodChain(t *testing.T) {
	state := NewState(today)
	wantIntervals := []int{1, 6, 15}
	for i, want := range wantIntervals {
		state = Schedule(state, Good, today)
		if state.Repetitions != i+1 {
			t.Fatalf("Expected repetitions %d, but got %d", i+1, state.Repetitions)
		}
		if state.IntervalDays != want {
			t.Fatalf("Expected interval %d after review %d, but got %d", want, i+1, state.IntervalDays)
		}
	}

	// From the third repetition on, Good strictly grows the interval and
	// never touches the ease factor.
	for i := 0; i < 10; i++ {
		next := Schedule(state, Good, today)
		if next.IntervalDays <= state.IntervalDays {
			t.Fatalf("Expected interval to grow past %d, but got %d", state.IntervalDays, next.IntervalDays)
		}
		if next.EaseFactor != state.EaseFactor {
			t.Fatalf("Expected ease factor %.2f to be unchanged, but got %.2f", state.EaseFactor, next.EaseFactor)
		}
		state = next
	}
}

func TestScheduleEaseFloor(t *testing.T) {
	for ease := 1.3; ease <= 3.5; ease += 0.01 {
		for _, rating := range []Rating{Again, Hard} {
			got := Schedule(State{EaseFactor: ease, IntervalDays: 4, Repetitions: 2}, rating, today)
			if got.EaseFactor < MinEaseFactor {
				t.Fatalf("Expected ease >= %.1f for %s from %.2f, but got %v", MinEaseFactor, rating, ease, got.EaseFactor)
			}
		}
	}
}

func TestScheduleIntervalBounds(t *testing.T) {
	for _, rating := range Ratings {
		for interval := 0; interval < 50; interval++ {
			for reps := 0; reps < 5; reps++ {
				if interval == 0 && reps > 0 {
					// Only Easy from a brand-new card keeps a zero interval
					// with repetitions above zero.
					continue
				}
				got := Schedule(State{EaseFactor: 2.5, IntervalDays: interval, Repetitions: reps}, rating, today)
				if got.IntervalDays < 0 {
					t.Fatalf("Expected non-negative interval, but got %d", got.IntervalDays)
				}
				zeroEasyEdge := rating == Easy && interval == 0
				if !zeroEasyEdge && got.IntervalDays < 1 {
					t.Fatalf("Expected interval >= 1 for %s from interval %d reps %d, but got %d",
						rating, interval, reps, got.IntervalDays)
				}
			}
		}
	}
}

func TestScheduleNormalizesMalformedState(t *testing.T) {
	got := Schedule(State{EaseFactor: math.NaN(), IntervalDays: -4, Repetitions: -2}, Good, today)
	if got.EaseFactor != MinEaseFactor {
		t.Errorf("Expected NaN ease to normalise to %.1f, but got %v", MinEaseFactor, got.EaseFactor)
	}
	if got.Repetitions != 1 || got.IntervalDays != 1 {
		t.Errorf("Expected a first repetition with interval 1, but got reps %d interval %d", got.Repetitions, got.IntervalDays)
	}
}

func TestScheduleUnknownRating(t *testing.T) {
	state := State{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2}
	got := Schedule(state, Rating(9), today)
	if got.IntervalDays != 6 || got.Repetitions != 2 || got.EaseFactor != 2.5 {
		t.Errorf("Expected unknown rating to leave the state unchanged, but got %+v", got)
	}
	if !got.NextReviewDate.Equal(date(2026, 3, 5)) {
		t.Errorf("Expected next review 2026-03-05, but got %s", got.NextReviewDate.Format(DateLayout))
	}
}

func TestNextReviewDate(t *testing.T) {
	testCases := []struct {
		name     string
		ref      time.Time
		days     int
		expected time.Time
	}{
		{"same day", date(2026, 2, 27), 0, date(2026, 2, 27)},
		{"month boundary", date(2026, 1, 31), 1, date(2026, 2, 1)},
		{"non-leap february", date(2026, 2, 28), 1, date(2026, 3, 1)},
		{"leap day", date(2028, 2, 28), 1, date(2028, 2, 29)},
		{"across leap day", date(2028, 2, 27), 3, date(2028, 3, 1)},
		{"year boundary", date(2026, 12, 30), 6, date(2027, 1, 5)},
		{"time of day is dropped", time.Date(2026, 2, 27, 23, 59, 0, 0, time.UTC), 1, date(2026, 2, 28)},
		{"non-UTC reference uses its UTC day", time.Date(2026, 2, 28, 0, 30, 0, 0, time.FixedZone("CET", 3600)), 1, date(2026, 2, 28)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextReviewDate(tc.ref, tc.days)
			if !got.Equal(tc.expected) {
				t.Errorf("Expected %s, but got %s", tc.expected.Format(DateLayout), got.Format(DateLayout))
			}
		})
	}
}

func TestRatingString(t *testing.T) {
	if Again.String() != "Again" || Easy.String() != "Easy" {
		t.Errorf("Expected rating names, but got %s and %s", Again, Easy)
	}
	if Rating(0).IsValid() || Rating(5).IsValid() {
		t.Error("Expected ratings outside 1..4 to be invalid")
	}
	if Rating(7).String() != "Rating(7)" {
		t.Errorf("Expected Rating(7), but got %s", Rating(7))
	}
}
