// Package study runs a line-oriented study session in a terminal.
package study

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/session"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// Syncer delivers ratings in the background and reports delivery failures.
// *reviewsync.Coordinator satisfies it.
type Syncer interface {
	session.Dispatcher
	FailedCount() int
	InFlight() int
	RetryAll() int
	Wait(ctx context.Context) error
}

// Run studies cards until the queue is empty, the user quits or in is
// exhausted. Before returning it waits for outstanding deliveries and offers
// to retry any that failed. It returns the final session state.
func Run(ctx context.Context, in io.Reader, out io.Writer, cards []domain.DueCard, syncer Syncer, rng *rand.Rand) (session.State, error) {
	ctrl := session.NewController(cards, syncer, rng)
	lines := bufio.NewScanner(in)

	if ctrl.State().IsComplete() {
		fmt.Fprintln(out, "No cards due. Nothing to study.")
		return ctrl.State(), nil
	}

loop:
	for !ctrl.State().IsComplete() {
		if err := ctx.Err(); err != nil {
			return ctrl.State(), err
		}
		state := ctrl.State()
		card, _ := state.CurrentCard()
		banner(out, syncer)

		if state.IsRevealed() {
			fmt.Fprintf(out, "%s\n\nRate 1) Again 2) Hard 3) Good 4) Easy: ", card.Back)
		} else {
			fmt.Fprintf(out, "\n[%d reviewed, %d left]\n%s\n\nPress enter to reveal (q to quit): ",
				state.ReviewedCount(), state.RemainingCount(), card.Front)
		}

		if !lines.Scan() {
			break
		}
		cmd := strings.ToLower(strings.TrimSpace(lines.Text()))
		switch {
		case cmd == "q":
			break loop
		case cmd == "r":
			retry(out, syncer)
		case !state.IsRevealed():
			ctrl.Reveal()
		default:
			n, err := strconv.Atoi(cmd)
			if err != nil {
				n = 0
			}
			if _, err := ctrl.Rate(sm2.Rating(n)); err != nil {
				if !errors.Is(err, domain.ErrInvalidInput) {
					return ctrl.State(), err
				}
				fmt.Fprintln(out, "Please enter 1, 2, 3 or 4.")
			}
		}
	}

	summary(out, ctrl.State())
	if err := drain(ctx, lines, out, syncer); err != nil {
		return ctrl.State(), err
	}
	return ctrl.State(), lines.Err()
}

func banner(out io.Writer, syncer Syncer) {
	if n := syncer.FailedCount(); n > 0 {
		fmt.Fprintf(out, "! %d review(s) failed to sync. Type r to retry.\n", n)
	}
}

func retry(out io.Writer, syncer Syncer) {
	if n := syncer.RetryAll(); n > 0 {
		fmt.Fprintf(out, "Retrying %d review(s).\n", n)
	}
}

// drain waits for in-flight deliveries, then lets the user retry failures
// until none remain or they decline.
func drain(ctx context.Context, lines *bufio.Scanner, out io.Writer, syncer Syncer) error {
	for {
		if n := syncer.InFlight(); n > 0 {
			fmt.Fprintf(out, "Waiting for %d review(s) to sync...\n", n)
		}
		if err := syncer.Wait(ctx); err != nil {
			return err
		}
		if syncer.FailedCount() == 0 {
			return nil
		}
		banner(out, syncer)
		fmt.Fprint(out, "Retry now? (r to retry, anything else to exit): ")
		if !lines.Scan() || strings.ToLower(strings.TrimSpace(lines.Text())) != "r" {
			fmt.Fprintf(out, "%d review(s) were not saved.\n", syncer.FailedCount())
			return nil
		}
		retry(out, syncer)
	}
}

func summary(out io.Writer, s session.State) {
	if s.IsComplete() {
		fmt.Fprintln(out, "\nSession complete.")
	} else {
		fmt.Fprintln(out, "\nSession ended.")
	}
	fmt.Fprintf(out, "Cards: %d  Reviews: %d\n", s.TotalCards(), s.ReviewedCount())
	parts := make([]string, 0, len(sm2.Ratings))
	for _, r := range sm2.Ratings {
		parts = append(parts, fmt.Sprintf("%s %d", r, s.RatingCount(r)))
	}
	fmt.Fprintln(out, strings.Join(parts, "  "))
}
