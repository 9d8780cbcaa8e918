// Package retrieval assembles the similarity context used to ground
// SQL generation: prior example questions, schema DDL fragments, and
// documentation snippets.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

// Searcher is the similarity-search backend. Implementations must be
// safe for concurrent use; Retrieve issues one Search per collection in
// parallel.
type Searcher interface {
	Search(ctx context.Context, collection, query string, limit int) ([]models.SearchHit, error)
}

// Config names the backend collections and bounds how much context one
// request may pull. The bounds keep prompt size predictable.
type Config struct {
	ExamplesCollection string
	DDLCollection      string
	DocsCollection     string
	MaxExamples        int
	MaxDDL             int
	MaxDocs            int
}

func (c *Config) setDefaults() {
	if c.ExamplesCollection == "" {
		c.ExamplesCollection = "example_questions"
	}
	if c.DDLCollection == "" {
		c.DDLCollection = "schema_ddl"
	}
	if c.DocsCollection == "" {
		c.DocsCollection = "docs"
	}
	if c.MaxExamples <= 0 {
		c.MaxExamples = 5
	}
	if c.MaxDDL <= 0 {
		c.MaxDDL = 3
	}
	if c.MaxDocs <= 0 {
		c.MaxDocs = 3
	}
}

// Retriever fans a question out across the three context collections.
type Retriever struct {
	searcher Searcher
	config   Config
	logger   zerolog.Logger
}

// NewRetriever creates a retriever over the given search backend.
func NewRetriever(searcher Searcher, config Config, logger zerolog.Logger) *Retriever {
	config.setDefaults()
	return &Retriever{
		searcher: searcher,
		config:   config,
		logger:   logger.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve builds the ranked context for one question. Collections are
// searched concurrently; an empty collection yields an empty slice, a
// backend failure fails the whole retrieval. Entries come back
// most-similar first within each kind.
func (r *Retriever) Retrieve(ctx context.Context, question string) (models.RetrievalContext, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.RetrievalContext{}, pkgerrors.ErrEmptyQuestion
	}

	var rctx models.RetrievalContext
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := r.search(gctx, r.config.ExamplesCollection, question, r.config.MaxExamples)
		if err != nil {
			return err
		}
		rctx.Examples = toEntries(hits, models.ContextExample)
		return nil
	})
	g.Go(func() error {
		hits, err := r.search(gctx, r.config.DDLCollection, question, r.config.MaxDDL)
		if err != nil {
			return err
		}
		rctx.DDL = toEntries(hits, models.ContextDDL)
		return nil
	})
	g.Go(func() error {
		hits, err := r.search(gctx, r.config.DocsCollection, question, r.config.MaxDocs)
		if err != nil {
			return err
		}
		rctx.Docs = toEntries(hits, models.ContextDoc)
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.RetrievalContext{}, err
	}

	r.logger.Debug().
		Int("examples", len(rctx.Examples)).
		Int("ddl", len(rctx.DDL)).
		Int("docs", len(rctx.Docs)).
		Msg("Context retrieved")
	return rctx, nil
}

func (r *Retriever) search(ctx context.Context, collection, question string, limit int) ([]models.SearchHit, error) {
	hits, err := r.searcher.Search(ctx, collection, question, limit)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.CodeRetrievalFailed,
			"similarity search failed for collection %s", collection)
	}
	// Backends usually rank already; enforce the ordering contract
	// anyway so downstream truncation keeps the best entries.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func toEntries(hits []models.SearchHit, kind models.ContextKind) []models.ContextEntry {
	entries := make([]models.ContextEntry, len(hits))
	for i, h := range hits {
		entries[i] = models.ContextEntry{Text: h.Text, Score: h.Score, Kind: kind}
	}
	return entries
}
