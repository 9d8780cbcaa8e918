package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

// cannedSearcher returns fixed hits per collection.
type cannedSearcher struct {
	hits map[string][]models.SearchHit
	errs map[string]error
}

func (c *cannedSearcher) Search(ctx context.Context, collection, query string, limit int) ([]models.SearchHit, error) {
	if err := c.errs[collection]; err != nil {
		return nil, err
	}
	return c.hits[collection], nil
}

func TestRetriever_Retrieve(t *testing.T) {
	searcher := &cannedSearcher{hits: map[string][]models.SearchHit{
		"example_questions": {
			{Text: "How much did I spend on food? -> SELECT ...", Score: 0.91},
			{Text: "Total spend last month -> SELECT ...", Score: 0.74},
		},
		"schema_ddl": {
			{Text: "CREATE TABLE expense (id INTEGER, user_id VARCHAR, amount DECIMAL, category VARCHAR)", Score: 0.66},
		},
		"docs": {
			{Text: "Categories are free-form strings chosen by the user.", Score: 0.41},
		},
	}}

	r := NewRetriever(searcher, Config{}, zerolog.Nop())
	rctx, err := r.Retrieve(context.Background(), "how much on food")
	require.NoError(t, err)

	require.Len(t, rctx.Examples, 2)
	assert.Equal(t, models.ContextExample, rctx.Examples[0].Kind)
	assert.Equal(t, 0.91, rctx.TopScore())
	require.Len(t, rctx.DDL, 1)
	assert.Equal(t, models.ContextDDL, rctx.DDL[0].Kind)
	require.Len(t, rctx.Docs, 1)
	assert.Equal(t, models.ContextDoc, rctx.Docs[0].Kind)
}

func TestRetriever_Retrieve_EnforcesBoundsAndOrdering(t *testing.T) {
	var hits []models.SearchHit
	for i := 0; i < 10; i++ {
		hits = append(hits, models.SearchHit{Text: fmt.Sprintf("q%d", i), Score: float64(i) / 10})
	}
	searcher := &cannedSearcher{hits: map[string][]models.SearchHit{"example_questions": hits}}

	r := NewRetriever(searcher, Config{MaxExamples: 3}, zerolog.Nop())
	rctx, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)

	require.Len(t, rctx.Examples, 3)
	assert.Equal(t, "q9", rctx.Examples[0].Text, "most similar first")
	assert.Equal(t, "q7", rctx.Examples[2].Text)
}

func TestRetriever_Retrieve_EmptyCollectionsTolerated(t *testing.T) {
	r := NewRetriever(&cannedSearcher{}, Config{}, zerolog.Nop())

	rctx, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, rctx.Examples)
	assert.Empty(t, rctx.DDL)
	assert.Empty(t, rctx.Docs)
	assert.Equal(t, 0.0, rctx.TopScore())
}

func TestRetriever_Retrieve_BackendFailure(t *testing.T) {
	searcher := &cannedSearcher{errs: map[string]error{"docs": fmt.Errorf("connection refused")}}
	r := NewRetriever(searcher, Config{}, zerolog.Nop())

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeRetrievalFailed, pkgerrors.GetCode(err))
}

func TestRetriever_Retrieve_EmptyQuestion(t *testing.T) {
	r := NewRetriever(&cannedSearcher{}, Config{}, zerolog.Nop())

	_, err := r.Retrieve(context.Background(), "   ")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyQuestion)
}
