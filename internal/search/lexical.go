package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/recallkit/recall/internal/knowledge"
)

// lexicalDoc is the shape indexed into bleve. Title, content, tags, and
// category all participate in full-text matching.
type lexicalDoc struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
}

// LexicalIndex is an in-memory full-text index over knowledge entries.
// It is kept in sync with the repository through the Listener callbacks
// and rebuilt from storage on startup.
type LexicalIndex struct {
	mu  sync.RWMutex
	idx bleve.Index
}

// NewLexicalIndex creates an empty in-memory index.
func NewLexicalIndex() (*LexicalIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("creating lexical index: %w", err)
	}
	return &LexicalIndex{idx: idx}, nil
}

// Rebuild drops nothing but reindexes every given entry. Used at startup
// to catch up with pre-existing storage contents.
func (l *LexicalIndex) Rebuild(entries []*knowledge.Entry) error {
	for _, e := range entries {
		if err := l.Upsert(e); err != nil {
			return err
		}
	}
	return nil
}

// Upsert indexes or reindexes one entry.
func (l *LexicalIndex) Upsert(e *knowledge.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := lexicalDoc{
		Title:    e.Title,
		Content:  e.Content,
		Category: e.Category,
		Tags:     strings.Join(e.Tags, " "),
	}
	if err := l.idx.Index(e.ID, doc); err != nil {
		return fmt.Errorf("indexing entry %q: %w", e.ID, err)
	}
	return nil
}

// Remove deletes one entry from the index. Unknown ids are a no-op.
func (l *LexicalIndex) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.idx.Delete(id); err != nil {
		return fmt.Errorf("removing entry %q: %w", id, err)
	}
	return nil
}

// Query runs a full-text match query and returns up to k hits with
// scores normalized into [0, 1] by the top hit's score. Bleve's raw
// tf-idf scores are unbounded, so normalization makes them comparable
// with cosine similarities on the vector side.
func (l *LexicalIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := l.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical query: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		score := 0.0
		if res.MaxScore > 0 {
			score = h.Score / res.MaxScore
		}
		hits = append(hits, Hit{ID: h.ID, Score: score})
	}
	return hits, nil
}

// Close releases the index resources.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx.Close()
}
