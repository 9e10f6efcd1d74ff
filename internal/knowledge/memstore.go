package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Storage implementation. It is the default
// backend and the one tests run against; PGStore provides durability.
//
// Safe for concurrent use by multiple goroutines.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*Entry)}
}

// Insert implements Storage.
func (s *MemStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return fmt.Errorf("entry %q already exists", e.ID)
	}
	s.entries[e.ID] = e.Clone()
	return nil
}

// Get implements Storage.
func (s *MemStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return e.Clone(), nil
}

// Update implements Storage.
func (s *MemStore) Update(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, e.ID)
	}
	s.entries[e.ID] = e.Clone()
	return nil
}

// Delete implements Storage.
func (s *MemStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

// All implements Storage.
func (s *MemStore) All(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out, nil
}

// ListByCategory implements Storage.
func (s *MemStore) ListByCategory(_ context.Context, category string, limit int) ([]*Entry, error) {
	return s.filtered(limit, func(e *Entry) bool { return e.Category == category })
}

// ListByTag implements Storage.
func (s *MemStore) ListByTag(_ context.Context, tag string, limit int) ([]*Entry, error) {
	return s.filtered(limit, func(e *Entry) bool { return e.HasTag(tag) })
}

// MostAccessed implements Storage.
func (s *MemStore) MostAccessed(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TouchAccess implements Storage.
func (s *MemStore) TouchAccess(_ context.Context, id string, at time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	e.AccessCount++
	e.LastAccessedAt = at
	return e.Clone(), nil
}

func (s *MemStore) filtered(limit int, match func(*Entry) bool) ([]*Entry, error) {
	s.mu.RLock()
	var out []*Entry
	for _, e := range s.entries {
		if match(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
