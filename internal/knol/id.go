// Package knol derives stable identities for imported cards.
package knol

import (
	"strings"

	"github.com/google/uuid"
)

// namespace scopes knoldeck card ids within UUIDv5 space.
var namespace = uuid.MustParse("6f1c2a7e-3b54-4d0a-9e61-8c2f5b7d4a10")

// Normalize joins a card's parts after lowercasing each, trimming it and
// normalising line endings, so cosmetic edits keep the same identity.
func Normalize(front, back string) string {
	part := func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		return strings.TrimSpace(strings.ToLower(s))
	}
	// A newline between parts keeps "ab"+"c" distinct from "a"+"bc".
	return part(front) + "\n" + part(back)
}

// ID returns the deterministic card id for the given content in deckID.
// The same content in two decks gets two ids.
func ID(deckID, front, back string) string {
	return uuid.NewSHA1(namespace, []byte(deckID+"\n"+Normalize(front, back))).String()
}
