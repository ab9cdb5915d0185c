package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Registers the postgres driver
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sm2"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn   *sqlx.DB
	driver string

	mu        sync.Mutex
	lastStamp time.Time
}

// sqliteDSN enables foreign keys on every connection the pool opens, so
// review records cascade with their card.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(driver, dsn string) (*DB, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection serialises writers.
		conn.SetMaxOpenConns(1)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// ForUser returns a store whose reads and writes are restricted to rows owned
// by userID. Rows owned by anyone else behave as if they did not exist.
func (db *DB) ForUser(userID string) *UserStore {
	return &UserStore{db: db, userID: userID}
}

// stamp returns a strictly increasing UTC timestamp so creation order
// survives clock ties.
func (db *DB) stamp() time.Time {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(db.lastStamp) {
		now = db.lastStamp.Add(time.Nanosecond)
	}
	db.lastStamp = now
	return now
}

type txKey struct{}

// UserStore is the owner-scoped storage collaborator of the review pipeline.
type UserStore struct {
	db     *DB
	userID string
}

// InTx runs fn inside a single transaction. Store calls made with the context
// passed to fn join that transaction.
func (s *UserStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *UserStore) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db.conn
}

type deckRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	CreatedAt string `db:"created_at"`
}

func (r deckRow) toDomain() (domain.Deck, error) {
	created, err := time.Parse(timestampLayout, r.CreatedAt)
	if err != nil {
		return domain.Deck{}, fmt.Errorf("failed to parse created_at of deck %s: %w", r.ID, err)
	}
	return domain.Deck{ID: r.ID, UserID: r.UserID, Name: r.Name, CreatedAt: created}, nil
}

// CreateDeck inserts a new deck owned by the store's user.
func (s *UserStore) CreateDeck(ctx context.Context, name string) (domain.Deck, error) {
	deck := domain.Deck{
		ID:        uuid.NewString(),
		UserID:    s.userID,
		Name:      name,
		CreatedAt: s.db.stamp(),
	}
	ext := s.ext(ctx)
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO decks (id, user_id, name, created_at)
		VALUES (?, ?, ?, ?)
	`), deck.ID, deck.UserID, deck.Name, deck.CreatedAt.Format(timestampLayout))
	if err != nil {
		return domain.Deck{}, fmt.Errorf("failed to insert deck %q: %w", name, err)
	}
	return deck, nil
}

// GetDeck retrieves a deck by its ID.
func (s *UserStore) GetDeck(ctx context.Context, deckID string) (domain.Deck, error) {
	return s.getDeck(ctx, "id", deckID)
}

// FindDeckByName retrieves the oldest deck with the given name.
func (s *UserStore) FindDeckByName(ctx context.Context, name string) (domain.Deck, error) {
	return s.getDeck(ctx, "name", name)
}

func (s *UserStore) getDeck(ctx context.Context, column, value string) (domain.Deck, error) {
	var row deckRow
	ext := s.ext(ctx)
	err := sqlx.GetContext(ctx, ext, &row, ext.Rebind(`
		SELECT id, user_id, name, created_at
		FROM decks WHERE `+column+` = ? AND user_id = ?
		ORDER BY created_at LIMIT 1
	`), value, s.userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Deck{}, fmt.Errorf("deck %s: %w", value, domain.ErrNotFound)
		}
		return domain.Deck{}, fmt.Errorf("failed to find deck by %s %s: %w", column, value, err)
	}
	return row.toDomain()
}

type cardRow struct {
	ID             string  `db:"id"`
	DeckID         string  `db:"deck_id"`
	Front          string  `db:"front"`
	Back           string  `db:"back"`
	EaseFactor     float64 `db:"ease_factor"`
	IntervalDays   int     `db:"interval_days"`
	Repetitions    int     `db:"repetitions"`
	NextReviewDate string  `db:"next_review_date"`
	CreatedAt      string  `db:"created_at"`
}

func (r cardRow) state() (sm2.State, error) {
	next, err := time.Parse(sm2.DateLayout, r.NextReviewDate)
	if err != nil {
		return sm2.State{}, fmt.Errorf("failed to parse next_review_date of card %s: %w", r.ID, err)
	}
	return sm2.State{
		EaseFactor:     r.EaseFactor,
		IntervalDays:   r.IntervalDays,
		Repetitions:    r.Repetitions,
		NextReviewDate: next,
	}, nil
}

func (r cardRow) toDomain() (domain.Card, error) {
	state, err := r.state()
	if err != nil {
		return domain.Card{}, err
	}
	created, err := time.Parse(timestampLayout, r.CreatedAt)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to parse created_at of card %s: %w", r.ID, err)
	}
	return domain.Card{
		ID:        r.ID,
		DeckID:    r.DeckID,
		Front:     r.Front,
		Back:      r.Back,
		State:     state,
		CreatedAt: created,
	}, nil
}

const cardColumns = `id, deck_id, front, back, ease_factor, interval_days, repetitions, next_review_date, created_at`

// CreateCard inserts a new card with a generated ID into one of the user's decks.
func (s *UserStore) CreateCard(ctx context.Context, deckID, front, back string) (domain.Card, error) {
	card, _, err := s.PutCard(ctx, domain.Card{ID: uuid.NewString(), DeckID: deckID, Front: front, Back: back})
	return card, err
}

// PutCard inserts card unless a card with the same ID already exists, in
// which case the stored card is left untouched. New cards start with the
// initial SM-2 state, due on the day they are created. The returned flag
// reports whether a row was inserted.
func (s *UserStore) PutCard(ctx context.Context, card domain.Card) (domain.Card, bool, error) {
	if _, err := s.GetDeck(ctx, card.DeckID); err != nil {
		return domain.Card{}, false, err
	}

	card.CreatedAt = s.db.stamp()
	card.State = sm2.NewState(card.CreatedAt)

	ext := s.ext(ctx)
	res, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO cards (`+cardColumns+`, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`),
		card.ID,
		card.DeckID,
		card.Front,
		card.Back,
		card.State.EaseFactor,
		card.State.IntervalDays,
		card.State.Repetitions,
		card.State.NextReviewDate.Format(sm2.DateLayout),
		card.CreatedAt.Format(timestampLayout),
		s.userID,
	)
	if err != nil {
		return domain.Card{}, false, fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Card{}, false, fmt.Errorf("failed to count inserted rows for card %s: %w", card.ID, err)
	}
	if n == 0 {
		existing, err := s.GetCard(ctx, card.ID)
		return existing, false, err
	}
	return card, true, nil
}

// GetCard retrieves a card by its ID.
func (s *UserStore) GetCard(ctx context.Context, cardID string) (domain.Card, error) {
	var row cardRow
	ext := s.ext(ctx)
	err := sqlx.GetContext(ctx, ext, &row, ext.Rebind(`
		SELECT `+cardColumns+`
		FROM cards WHERE id = ? AND user_id = ?
	`), cardID, s.userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
		}
		return domain.Card{}, fmt.Errorf("failed to find card %s: %w", cardID, err)
	}
	return row.toDomain()
}

// ListCards retrieves every card of a deck in creation order.
func (s *UserStore) ListCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	var rows []cardRow
	ext := s.ext(ctx)
	err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(`
		SELECT `+cardColumns+`
		FROM cards WHERE deck_id = ? AND user_id = ?
		ORDER BY created_at, id
	`), deckID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for deck %s: %w", deckID, err)
	}

	cards := make([]domain.Card, 0, len(rows))
	for _, row := range rows {
		card, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// DeleteCard removes a card. Its review records are removed with it.
func (s *UserStore) DeleteCard(ctx context.Context, cardID string) error {
	ext := s.ext(ctx)
	res, err := ext.ExecContext(ctx, ext.Rebind(`
		DELETE FROM cards
		WHERE id = ? AND user_id = ?
	`), cardID, s.userID)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows for card %s: %w", cardID, err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	return nil
}

// GetSchedulingState reads the current scheduling state of a card. Inside a
// postgres transaction the row stays locked until the transaction ends.
func (s *UserStore) GetSchedulingState(ctx context.Context, cardID string) (sm2.State, error) {
	query := `
		SELECT id, ease_factor, interval_days, repetitions, next_review_date
		FROM cards WHERE id = ? AND user_id = ?`
	if _, inTx := ctx.Value(txKey{}).(*sqlx.Tx); inTx && s.db.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}

	var row cardRow
	ext := s.ext(ctx)
	if err := sqlx.GetContext(ctx, ext, &row, ext.Rebind(query), cardID, s.userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sm2.State{}, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
		}
		return sm2.State{}, fmt.Errorf("failed to read scheduling state of card %s: %w", cardID, err)
	}
	return row.state()
}

// SetSchedulingState overwrites the scheduling state of a card.
func (s *UserStore) SetSchedulingState(ctx context.Context, cardID string, state sm2.State) (sm2.State, error) {
	ext := s.ext(ctx)
	res, err := ext.ExecContext(ctx, ext.Rebind(`
		UPDATE cards
		SET ease_factor = ?, interval_days = ?, repetitions = ?, next_review_date = ?
		WHERE id = ? AND user_id = ?
	`),
		state.EaseFactor,
		state.IntervalDays,
		state.Repetitions,
		sm2.Day(state.NextReviewDate).Format(sm2.DateLayout),
		cardID,
		s.userID,
	)
	if err != nil {
		return sm2.State{}, fmt.Errorf("failed to update scheduling state of card %s: %w", cardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sm2.State{}, fmt.Errorf("failed to count updated rows for card %s: %w", cardID, err)
	}
	if n == 0 {
		return sm2.State{}, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	state.NextReviewDate = sm2.Day(state.NextReviewDate)
	return state, nil
}

type reviewRow struct {
	ID                string  `db:"id"`
	CardID            string  `db:"card_id"`
	Rating            int     `db:"rating"`
	EaseFactorAfter   float64 `db:"ease_factor_after"`
	IntervalDaysAfter int     `db:"interval_days_after"`
	RepetitionsAfter  int     `db:"repetitions_after"`
	ReviewedAt        string  `db:"reviewed_at"`
}

// AppendReviewRecord writes a review audit record, assigning its ID and, if
// unset, its timestamp.
func (s *UserStore) AppendReviewRecord(ctx context.Context, rec domain.ReviewRecord) (domain.ReviewRecord, error) {
	rec.ID = uuid.NewString()
	if rec.ReviewedAt.IsZero() {
		rec.ReviewedAt = s.db.stamp()
	}
	rec.ReviewedAt = rec.ReviewedAt.UTC()

	ext := s.ext(ctx)
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO card_reviews (id, card_id, user_id, rating, ease_factor_after, interval_days_after, repetitions_after, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.ID,
		rec.CardID,
		s.userID,
		int(rec.Rating),
		rec.EaseFactorAfter,
		rec.IntervalDaysAfter,
		rec.RepetitionsAfter,
		rec.ReviewedAt.Format(timestampLayout),
	)
	if err != nil {
		return domain.ReviewRecord{}, fmt.Errorf("failed to insert review for card %s: %w", rec.CardID, err)
	}
	return rec, nil
}

// ListReviewRecords retrieves the review history of a card, oldest first.
func (s *UserStore) ListReviewRecords(ctx context.Context, cardID string) ([]domain.ReviewRecord, error) {
	var rows []reviewRow
	ext := s.ext(ctx)
	err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(`
		SELECT id, card_id, rating, ease_factor_after, interval_days_after, repetitions_after, reviewed_at
		FROM card_reviews WHERE card_id = ? AND user_id = ?
		ORDER BY reviewed_at, id
	`), cardID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews for card %s: %w", cardID, err)
	}

	records := make([]domain.ReviewRecord, 0, len(rows))
	for _, row := range rows {
		reviewed, err := time.Parse(timestampLayout, row.ReviewedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse reviewed_at of review %s: %w", row.ID, err)
		}
		records = append(records, domain.ReviewRecord{
			ID:                row.ID,
			CardID:            row.CardID,
			Rating:            sm2.Rating(row.Rating),
			EaseFactorAfter:   row.EaseFactorAfter,
			IntervalDaysAfter: row.IntervalDaysAfter,
			RepetitionsAfter:  row.RepetitionsAfter,
			ReviewedAt:        reviewed,
		})
	}
	return records, nil
}

// GetDueCards retrieves the cards of a deck whose next review date is on or
// before asOf's UTC day, in creation order.
func (s *UserStore) GetDueCards(ctx context.Context, deckID string, asOf time.Time) ([]domain.DueCard, error) {
	if _, err := s.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}

	var rows []cardRow
	ext := s.ext(ctx)
	err := sqlx.SelectContext(ctx, ext, &rows, ext.Rebind(`
		SELECT `+cardColumns+`
		FROM cards
		WHERE deck_id = ? AND user_id = ? AND next_review_date <= ?
		ORDER BY created_at, id
	`), deckID, s.userID, sm2.Day(asOf).Format(sm2.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards for deck %s: %w", deckID, err)
	}

	due := make([]domain.DueCard, 0, len(rows))
	for _, row := range rows {
		state, err := row.state()
		if err != nil {
			return nil, err
		}
		due = append(due, domain.DueCard{ID: row.ID, Front: row.Front, Back: row.Back, State: state})
	}
	return due, nil
}
