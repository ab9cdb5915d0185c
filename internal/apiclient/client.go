// Package apiclient talks to the knoldeck web endpoints on behalf of one user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
	"github.com/conorfennell/knoldeck/internal/web"
)

// Client is an HTTP client for a single user. It satisfies
// reviewsync.Transport.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL acting as userID. Requests
// time out after timeout; zero means no timeout.
func New(baseURL, userID string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DueCards fetches the cards of deckID that are due today.
func (c *Client) DueCards(ctx context.Context, deckID string) ([]domain.DueCard, error) {
	var resp web.StudyResponse
	if err := c.do(ctx, http.MethodGet, "/api/decks/"+url.PathEscape(deckID)+"/study", nil, &resp); err != nil {
		return nil, err
	}
	cards := make([]domain.DueCard, 0, len(resp.Cards))
	for _, sc := range resp.Cards {
		card, err := sc.DueCard()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Review submits rating for cardID and returns the server's view of the result.
func (c *Client) Review(ctx context.Context, cardID string, rating sm2.Rating) (web.ReviewResponse, error) {
	var resp web.ReviewResponse
	body := web.ReviewRequest{Rating: int(rating)}
	err := c.do(ctx, http.MethodPost, "/api/cards/"+url.PathEscape(cardID)+"/review", body, &resp)
	return resp, err
}

// History fetches the review history of cardID, oldest first.
func (c *Client) History(ctx context.Context, cardID string) (web.HistoryResponse, error) {
	var resp web.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/cards/"+url.PathEscape(cardID)+"/reviews", nil, &resp)
	return resp, err
}

// SubmitReview submits rating for cardID, discarding the response body.
func (c *Client) SubmitReview(ctx context.Context, cardID string, rating sm2.Rating) error {
	_, err := c.Review(ctx, cardID, rating)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(web.UserHeader, c.userID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrTransientIO, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(method, path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", domain.ErrTransientIO, method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	var e web.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
	msg := e.Error
	if msg == "" {
		msg = resp.Status
	}

	kind := domain.ErrTransientIO
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = domain.ErrInvalidInput
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s %s: %d %s", kind, method, path, resp.StatusCode, msg)
}
