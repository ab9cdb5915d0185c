// Package importer reconciles a deck with the markdown cards found in a local
// directory or git repository.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/gitsource"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/parser"
)

// Store is what an import needs from storage, scoped to one user.
type Store interface {
	FindDeckByName(ctx context.Context, name string) (domain.Deck, error)
	CreateDeck(ctx context.Context, name string) (domain.Deck, error)
	PutCard(ctx context.Context, card domain.Card) (domain.Card, bool, error)
	ListCards(ctx context.Context, deckID string) ([]domain.Card, error)
	DeleteCard(ctx context.Context, cardID string) error
}

// Transactor is implemented by stores that can apply a whole import atomically.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Report summarises one import run.
type Report struct {
	DeckID   string
	Parsed   int
	Created  int
	Existing int
	Pruned   int
	// Problems are per-file or per-entry issues that did not stop the run.
	Problems []error
}

// Importer loads markdown cards into one user's decks.
type Importer struct {
	store    Store
	reposDir string
	prune    bool
	logger   *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithReposDir sets where git sources are checked out.
func WithReposDir(dir string) Option {
	return func(im *Importer) { im.reposDir = dir }
}

// WithPrune makes an import delete deck cards no longer present in the source.
func WithPrune(prune bool) Option {
	return func(im *Importer) { im.prune = prune }
}

// WithLogger sets the importer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) { im.logger = logger }
}

// New returns an Importer writing to store. Git sources are checked out
// under "repos" unless WithReposDir says otherwise.
func New(store Store, opts ...Option) *Importer {
	im := &Importer{store: store, reposDir: "repos", logger: slog.Default()}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import loads every .md file under source into the deck named deckName,
// creating the deck if needed. A card's id is derived from its content, so
// importing the same source twice adds nothing the second time.
func (im *Importer) Import(ctx context.Context, deckName, source string) (Report, error) {
	if strings.TrimSpace(deckName) == "" {
		return Report{}, fmt.Errorf("%w: empty deck name", domain.ErrInvalidInput)
	}

	dir := source
	if gitsource.IsRemote(source) {
		local, err := gitsource.LocalPath(im.reposDir, source)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return Report{}, fmt.Errorf("failed to create repos directory: %w", err)
		}
		if err := gitsource.Sync(ctx, source, local, im.logger); err != nil {
			return Report{}, fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		dir = local
	}

	entries, problems, err := collect(dir)
	if err != nil {
		return Report{}, err
	}

	var report Report
	apply := func(ctx context.Context) error {
		var rerr error
		report, rerr = im.reconcile(ctx, deckName, entries)
		return rerr
	}
	if tx, ok := im.store.(Transactor); ok {
		err = tx.InTx(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		return Report{}, err
	}
	report.Problems = append(problems, report.Problems...)

	im.logger.Info("import complete",
		"deck", deckName,
		"source", source,
		"parsed", report.Parsed,
		"created", report.Created,
		"existing", report.Existing,
		"pruned", report.Pruned,
		"problems", len(report.Problems),
	)
	return report, nil
}

type located struct {
	parser.Entry
	path string
}

// collect parses every markdown file under dir in lexical order.
func collect(dir string) ([]located, []error, error) {
	var entries []located
	var problems []error

	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: source %s: %w", domain.ErrInvalidInput, dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: source %s is not a directory", domain.ErrInvalidInput, dir)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileEntries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			problems = append(problems, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, e := range fileEntries {
			entries = append(entries, located{Entry: e, path: path})
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}
	return entries, problems, nil
}

func (im *Importer) reconcile(ctx context.Context, deckName string, entries []located) (Report, error) {
	deck, err := im.store.FindDeckByName(ctx, deckName)
	if errors.Is(err, domain.ErrNotFound) {
		deck, err = im.store.CreateDeck(ctx, deckName)
	}
	if err != nil {
		return Report{}, err
	}

	report := Report{DeckID: deck.ID}
	found := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Back == "" {
			report.Problems = append(report.Problems, fmt.Errorf("%s:%d: card %q has no answer", e.path, e.Line, e.Front))
			continue
		}
		back := e.Back
		if e.Context != "" {
			back += "\n\n" + e.Context
		}

		report.Parsed++
		id := knol.ID(deck.ID, e.Front, back)
		if found[id] {
			report.Existing++
			continue
		}
		found[id] = true

		_, created, err := im.store.PutCard(ctx, domain.Card{ID: id, DeckID: deck.ID, Front: e.Front, Back: back})
		if err != nil {
			return Report{}, fmt.Errorf("%s:%d: %w", e.path, e.Line, err)
		}
		if created {
			report.Created++
		} else {
			report.Existing++
		}
	}

	if !im.prune {
		return report, nil
	}
	cards, err := im.store.ListCards(ctx, deck.ID)
	if err != nil {
		return Report{}, err
	}
	for _, c := range cards {
		if found[c.ID] {
			continue
		}
		if err := im.store.DeleteCard(ctx, c.ID); err != nil {
			return Report{}, err
		}
		im.logger.Debug("pruned card", "card_id", c.ID, "deck_id", deck.ID)
		report.Pruned++
	}
	return report, nil
}
