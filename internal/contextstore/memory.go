package contextstore

import (
	"context"
	"sort"
	"sync"
)

// MemBackend keeps versions in process memory. It is the default backend
// and the one tests run against.
type MemBackend struct {
	mu       sync.RWMutex
	versions map[string][]*Document // type -> versions ascending
}

// NewMemBackend creates an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{versions: make(map[string][]*Document)}
}

// Append implements Backend.
func (b *MemBackend) Append(_ context.Context, doc *Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[doc.Type] = append(b.versions[doc.Type], doc.Clone())
	return nil
}

// Latest implements Backend.
func (b *MemBackend) Latest(_ context.Context, typ string) (*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vs := b.versions[typ]
	if len(vs) == 0 {
		return nil, nil
	}
	return vs[len(vs)-1].Clone(), nil
}

// History implements Backend.
func (b *MemBackend) History(_ context.Context, typ string, q HistoryQuery) ([]*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Document
	for _, doc := range b.versions[typ] {
		if !q.matches(doc.Version) {
			continue
		}
		out = append(out, doc.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Types implements Backend.
func (b *MemBackend) Types(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.versions))
	for typ := range b.versions {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out, nil
}
