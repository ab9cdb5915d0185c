package session

import (
	"math/rand/v2"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// Dispatcher receives every accepted rating. Enqueue must not block on the
// network: the session has already moved on by the time it is called.
type Dispatcher interface {
	Enqueue(cardID string, rating sm2.Rating)
}

// Controller owns the current State of one session. It is driven from a
// single goroutine and is not safe for concurrent use.
type Controller struct {
	state    State
	dispatch Dispatcher
}

// NewController starts a session over cards, forwarding ratings to dispatcher.
func NewController(cards []domain.DueCard, dispatcher Dispatcher, rng *rand.Rand) *Controller {
	return &Controller{state: New(cards, rng), dispatch: dispatcher}
}

// State returns the current snapshot.
func (c *Controller) State() State { return c.state }

// Reveal shows the current card's answer.
func (c *Controller) Reveal() State {
	c.state = c.state.Reveal()
	return c.state
}

// Rate applies rating to the current card, then hands it to the dispatcher.
// A rejected rating is not dispatched.
func (c *Controller) Rate(rating sm2.Rating) (State, error) {
	card, _ := c.state.CurrentCard()
	next, err := c.state.Rate(rating)
	if err != nil {
		return c.state, err
	}
	c.state = next
	if c.dispatch != nil {
		c.dispatch.Enqueue(card.ID, rating)
	}
	return c.state, nil
}
