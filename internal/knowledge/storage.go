package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("knowledge entry not found")

// Storage is the document-store contract the repository persists through.
// Interfaces are defined by the consumer: implementations live alongside
// (MemStore, PGStore) but the repository depends only on this.
//
// Implementations must treat entries as values: returned entries are owned
// by the caller and mutations to them must not affect stored state.
type Storage interface {
	// Insert stores a new entry.
	Insert(ctx context.Context, e *Entry) error

	// Get returns the entry by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Update replaces the stored entry, or returns ErrNotFound.
	Update(ctx context.Context, e *Entry) error

	// Delete removes the entry. Returns false (no error) if absent.
	Delete(ctx context.Context, id string) (bool, error)

	// All returns every entry. Used by the linear vector-scan path.
	All(ctx context.Context) ([]*Entry, error)

	// ListByCategory returns up to limit entries in category, newest first.
	ListByCategory(ctx context.Context, category string, limit int) ([]*Entry, error)

	// ListByTag returns up to limit entries carrying tag, newest first.
	ListByTag(ctx context.Context, tag string, limit int) ([]*Entry, error)

	// MostAccessed returns up to limit entries by descending AccessCount.
	MostAccessed(ctx context.Context, limit int) ([]*Entry, error)

	// TouchAccess increments AccessCount and sets LastAccessedAt, returning
	// the updated entry, or ErrNotFound.
	TouchAccess(ctx context.Context, id string, at time.Time) (*Entry, error)
}
