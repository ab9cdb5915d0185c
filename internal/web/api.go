package web

import (
	"fmt"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// UserHeader carries the id of the authenticated user.
const UserHeader = "X-User-ID"

// ReviewRequest is the body of POST /api/cards/{cardId}/review.
type ReviewRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=4"`
}

// CardState is a card's scheduling state after a review.
type CardState struct {
	ID             string  `json:"id"`
	EaseFactor     float64 `json:"easeFactor"`
	IntervalDays   int     `json:"intervalDays"`
	Repetitions    int     `json:"repetitions"`
	NextReviewDate string  `json:"nextReviewDate"`
}

// Review is the audit record written by a review.
type Review struct {
	ID         string `json:"id"`
	Rating     int    `json:"rating"`
	ReviewedAt string `json:"reviewedAt"`
}

// ReviewResponse is returned by a successful review.
type ReviewResponse struct {
	Card   CardState `json:"card"`
	Review Review    `json:"review"`
}

// StudyCard is one due card handed to a study session.
type StudyCard struct {
	ID             string  `json:"id"`
	Front          string  `json:"front"`
	Back           string  `json:"back"`
	EaseFactor     float64 `json:"easeFactor"`
	IntervalDays   int     `json:"intervalDays"`
	Repetitions    int     `json:"repetitions"`
	NextReviewDate string  `json:"nextReviewDate"`
}

// StudyResponse is returned by GET /api/decks/{deckId}/study.
type StudyResponse struct {
	Cards    []StudyCard `json:"cards"`
	TotalDue int         `json:"totalDue"`
}

// HistoryEntry is one past review of a card and the state it produced.
type HistoryEntry struct {
	ID           string  `json:"id"`
	Rating       int     `json:"rating"`
	EaseFactor   float64 `json:"easeFactor"`
	IntervalDays int     `json:"intervalDays"`
	Repetitions  int     `json:"repetitions"`
	ReviewedAt   string  `json:"reviewedAt"`
}

// HistoryResponse is returned by GET /api/cards/{cardId}/reviews.
type HistoryResponse struct {
	CardID  string         `json:"cardId"`
	Reviews []HistoryEntry `json:"reviews"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newReviewResponse(cardID string, r review.Result) ReviewResponse {
	return ReviewResponse{
		Card: CardState{
			ID:             cardID,
			EaseFactor:     r.State.EaseFactor,
			IntervalDays:   r.State.IntervalDays,
			Repetitions:    r.State.Repetitions,
			NextReviewDate: r.State.NextReviewDate.Format(sm2.DateLayout),
		},
		Review: Review{
			ID:         r.Record.ID,
			Rating:     int(r.Record.Rating),
			ReviewedAt: r.Record.ReviewedAt.UTC().Format(time.RFC3339),
		},
	}
}

func newStudyResponse(cards []domain.DueCard) StudyResponse {
	out := StudyResponse{Cards: make([]StudyCard, len(cards)), TotalDue: len(cards)}
	for i, c := range cards {
		out.Cards[i] = StudyCard{
			ID:             c.ID,
			Front:          c.Front,
			Back:           c.Back,
			EaseFactor:     c.State.EaseFactor,
			IntervalDays:   c.State.IntervalDays,
			Repetitions:    c.State.Repetitions,
			NextReviewDate: c.State.NextReviewDate.Format(sm2.DateLayout),
		}
	}
	return out
}

func newHistoryResponse(cardID string, records []domain.ReviewRecord) HistoryResponse {
	out := HistoryResponse{CardID: cardID, Reviews: make([]HistoryEntry, len(records))}
	for i, rec := range records {
		out.Reviews[i] = HistoryEntry{
			ID:           rec.ID,
			Rating:       int(rec.Rating),
			EaseFactor:   rec.EaseFactorAfter,
			IntervalDays: rec.IntervalDaysAfter,
			Repetitions:  rec.RepetitionsAfter,
			ReviewedAt:   rec.ReviewedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

// DueCard converts a StudyCard back into its domain form.
func (c StudyCard) DueCard() (domain.DueCard, error) {
	next, err := time.Parse(sm2.DateLayout, c.NextReviewDate)
	if err != nil {
		return domain.DueCard{}, fmt.Errorf("card %s: next review date %q: %w", c.ID, c.NextReviewDate, err)
	}
	return domain.DueCard{
		ID:    c.ID,
		Front: c.Front,
		Back:  c.Back,
		State: sm2.State{
			EaseFactor:     c.EaseFactor,
			IntervalDays:   c.IntervalDays,
			Repetitions:    c.Repetitions,
			NextReviewDate: next,
		},
	}, nil
}
