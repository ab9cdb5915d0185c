// Package web serves the JSON endpoints used by study clients: the study
// bootstrap for a deck and the remote review endpoint.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/sm2"
	"github.com/conorfennell/knoldeck/internal/storage"
)

const maxBodyBytes = 1 << 16

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knoldeck_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knoldeck_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Server holds the dependencies for the HTTP server.
type Server struct {
	db     *storage.DB
	router *http.ServeMux
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, opts ...Option) *Server {
	s := &Server{
		db:     db,
		router: http.NewServeMux(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.handle("GET /healthz", s.handleHealth())
	s.router.Handle("GET /metrics", promhttp.Handler())

	s.handle("GET /api/decks/{deckId}/study", s.withUser(s.handleGetStudy()))
	s.handle("POST /api/cards/{cardId}/review", s.withUser(s.handlePostReview()))
	s.handle("GET /api/cards/{cardId}/reviews", s.withUser(s.handleGetReviews()))
}

// handle registers h under pattern with request metrics labelled by pattern.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		httpRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type userHandler func(w http.ResponseWriter, r *http.Request, store *storage.UserStore)

// withUser resolves the caller from UserHeader and scopes storage to them.
func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing " + UserHeader + " header"})
			return
		}
		h(w, r, s.db.ForUser(userID))
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "database unavailable"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleGetStudy returns every card of the deck due today.
func (s *Server) handleGetStudy() userHandler {
	return func(w http.ResponseWriter, r *http.Request, store *storage.UserStore) {
		deckID := r.PathValue("deckId")
		cards, err := store.GetDueCards(r.Context(), deckID, sm2.Day(s.now()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newStudyResponse(cards))
	}
}

// handlePostReview applies one rating to a card.
func (s *Server) handlePostReview() userHandler {
	return func(w http.ResponseWriter, r *http.Request, store *storage.UserStore) {
		cardID := r.PathValue("cardId")

		var req ReviewRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
			return
		}
		if err := validate.Struct(req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "rating must be 1, 2, 3 or 4"})
			return
		}

		p := review.NewProcessor(store, review.WithClock(s.now), review.WithLogger(s.logger))
		result, err := p.SubmitReview(r.Context(), cardID, sm2.Rating(req.Rating))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newReviewResponse(cardID, result))
	}
}

// handleGetReviews returns a card's review history, oldest first.
func (s *Server) handleGetReviews() userHandler {
	return func(w http.ResponseWriter, r *http.Request, store *storage.UserStore) {
		cardID := r.PathValue("cardId")
		if _, err := store.GetCard(r.Context(), cardID); err != nil {
			s.writeError(w, r, err)
			return
		}
		records, err := store.ListReviewRecords(r.Context(), cardID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newHistoryResponse(cardID, records))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
