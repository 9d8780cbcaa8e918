package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spendlens/spendlens/pkg/models"
)

// MemoryIndex is a lexical in-process Searcher. It scores documents by
// cosine similarity over term frequencies, which is plenty for seeding
// a deployment from flat files and for deterministic tests. It is not a
// substitute for a real embedding backend at scale.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string][]memoryDoc
}

type memoryDoc struct {
	text  string
	terms map[string]float64
	norm  float64
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string][]memoryDoc)}
}

// Add indexes one document under the named collection.
func (m *MemoryIndex) Add(collection, text string) {
	terms := termFrequencies(text)
	doc := memoryDoc{text: text, terms: terms, norm: vectorNorm(terms)}

	m.mu.Lock()
	m.collections[collection] = append(m.collections[collection], doc)
	m.mu.Unlock()
}

// Len returns the number of documents in a collection.
func (m *MemoryIndex) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Search implements Searcher. An unknown collection is empty, not an
// error. Documents with zero similarity are omitted.
func (m *MemoryIndex) Search(ctx context.Context, collection, query string, limit int) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qTerms := termFrequencies(query)
	qNorm := vectorNorm(qTerms)
	if qNorm == 0 {
		return nil, nil
	}

	m.mu.RLock()
	docs := m.collections[collection]
	m.mu.RUnlock()

	var hits []models.SearchHit
	for _, doc := range docs {
		if score := cosine(qTerms, qNorm, doc.terms, doc.norm); score > 0 {
			hits = append(hits, models.SearchHit{Text: doc.text, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func termFrequencies(text string) map[string]float64 {
	terms := make(map[string]float64)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	}) {
		terms[tok]++
	}
	return terms
}

func vectorNorm(terms map[string]float64) float64 {
	var sum float64
	for _, f := range terms {
		sum += f * f
	}
	return math.Sqrt(sum)
}

func cosine(a map[string]float64, aNorm float64, b map[string]float64, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for term, fa := range a {
		if fb, ok := b[term]; ok {
			dot += fa * fb
		}
	}
	return dot / (aNorm * bNorm)
}
