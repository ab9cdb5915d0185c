package storage

// The schema sticks to types and clauses both sqlite and postgres accept.
// Timestamps are fixed-width UTC text so lexical order is creation order.
const schema = `
-- The 'decks' table groups cards for one owner.
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- The 'cards' table stores card content and its SM-2 scheduling state.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL REFERENCES decks(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
    interval_days INTEGER NOT NULL DEFAULT 0,
    repetitions INTEGER NOT NULL DEFAULT 0,
    next_review_date TEXT NOT NULL, -- YYYY-MM-DD, UTC
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS cards_deck_due ON cards (deck_id, next_review_date);

-- The 'card_reviews' table is the append-only review audit log.
CREATE TABLE IF NOT EXISTS card_reviews (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 4),
    ease_factor_after DOUBLE PRECISION NOT NULL,
    interval_days_after INTEGER NOT NULL,
    repetitions_after INTEGER NOT NULL,
    reviewed_at TEXT NOT NULL
);
`
