package knol

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalize(t *testing.T) {
	expected := "what is htmx?\na library for ajax."
	normalized := Normalize("  What is HTMX? \r\n", "A library for AJAX.")

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestID(t *testing.T) {
	t.Run("is a version 5 uuid", func(t *testing.T) {
		id, err := uuid.Parse(ID("deck-1", "Q", "A"))
		if err != nil {
			t.Fatalf("Expected a valid uuid, but got error: %v", err)
		}
		if id.Version() != 5 {
			t.Errorf("Expected version 5, but got %d", id.Version())
		}
	})

	t.Run("id is deterministic", func(t *testing.T) {
		if ID("deck-1", "Test", "") != ID("deck-1", "Test", "") {
			t.Error("Expected ids for identical cards to be the same")
		}
	})

	t.Run("normalization produces same id", func(t *testing.T) {
		if ID("deck-1", "  what is go? ", "A programming language.") != ID("deck-1", "What Is Go?", "A programming language.") {
			t.Error("Expected ids to be the same after normalization, but they were different.")
		}
	})

	t.Run("different cards have different ids", func(t *testing.T) {
		if ID("deck-1", "Card 1", "") == ID("deck-1", "Card 2", "") {
			t.Error("Expected ids for different cards to be different")
		}
	})

	t.Run("part boundary matters", func(t *testing.T) {
		if ID("deck-1", "ab", "c") == ID("deck-1", "a", "bc") {
			t.Error("Expected moving text between front and back to change the id")
		}
	})

	t.Run("decks scope ids", func(t *testing.T) {
		if ID("deck-1", "Same", "Card") == ID("deck-2", "Same", "Card") {
			t.Error("Expected the same content in two decks to get different ids")
		}
	})
}
