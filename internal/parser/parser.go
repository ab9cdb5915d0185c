// Package parser extracts flashcards from markdown files.
//
// A card starts at a line beginning with "Q:" and runs until the next "Q:",
// a "---" separator line or the end of the file. "A:" starts the answer and
// "C:" an optional context note. Lines that follow a prefix belong to the
// same block. Text before the first "Q:" is ignored.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	frontPrefix   = "Q:"
	backPrefix    = "A:"
	contextPrefix = "C:"
	separator     = "---"
)

// Entry is one card as written in the source file.
type Entry struct {
	Front   string
	Back    string
	Context string
	// Line is the 1-based line of the entry's "Q:".
	Line int
}

type field int

const (
	none field = iota
	front
	back
	context
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

type builder struct {
	entries []Entry
	current Entry
	field   field
	block   []string
}

// flushBlock stores the lines collected so far in the current field.
func (b *builder) flushBlock() {
	if b.field == none || len(b.block) == 0 {
		b.block = nil
		return
	}
	text := strings.TrimSpace(strings.Join(b.block, "\n"))
	switch b.field {
	case front:
		b.current.Front = text
	case back:
		b.current.Back = text
	case context:
		b.current.Context = text
	}
	b.block = nil
}

// finish closes the current entry, keeping it only if it has a front.
func (b *builder) finish() {
	b.flushBlock()
	if b.current.Front != "" {
		b.entries = append(b.entries, b.current)
	}
	b.current = Entry{}
	b.field = none
}

func (b *builder) start(f field, rest string) {
	b.flushBlock()
	b.field = f
	b.block = append(b.block, strings.TrimPrefix(rest, " "))
}

// Parse reads from an io.Reader and extracts all entries.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	b := &builder{}

	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == separator:
			b.finish()
		case strings.HasPrefix(line, frontPrefix):
			b.finish()
			b.current.Line = n
			b.start(front, line[len(frontPrefix):])
		case strings.HasPrefix(line, backPrefix) && b.field != none:
			b.start(back, line[len(backPrefix):])
		case strings.HasPrefix(line, contextPrefix) && b.field != none:
			b.start(context, line[len(contextPrefix):])
		case b.field != none:
			b.block = append(b.block, line)
		}
	}
	b.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.entries, nil
}
