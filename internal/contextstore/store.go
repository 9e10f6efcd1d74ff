// Package contextstore keeps versioned context documents: free-form
// key/value maps written either wholesale or as patches, with every
// write producing a new immutable version.
package contextstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Remove is the patch value that deletes a key from the document.
var Remove = removal{}

type removal struct{}

// ErrEmptyType is returned when the context type is blank.
var ErrEmptyType = errors.New("context type is required")

// Document is one immutable version of a context type. Versions start
// at 1 and increase by exactly one per update.
type Document struct {
	Type      string         `json:"type"`
	Version   int64          `json:"version"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a copy with its own top-level Data map. Nested values
// are shared; callers must not mutate them.
func (d *Document) Clone() *Document {
	out := *d
	out.Data = make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		out.Data[k] = v
	}
	return &out
}

// UpdateRequest describes one write. Exactly one of Full or Patch must
// be set: Full replaces the document, Patch overlays the latest version
// (Remove values delete keys).
type UpdateRequest struct {
	Full  map[string]any
	Patch map[string]any
}

func (r UpdateRequest) validate() error {
	if (r.Full == nil) == (r.Patch == nil) {
		return fmt.Errorf("exactly one of Full or Patch must be set")
	}
	return nil
}

// HistoryQuery restricts GetHistory. Zero values mean unbounded; Version
// selects a single exact version.
type HistoryQuery struct {
	Limit   int
	After   int64 // exclusive lower version bound
	Before  int64 // exclusive upper version bound
	Version int64 // exact version, overrides the bounds
}

// Backend persists versions. The Store serializes writes per type, so
// backends never see concurrent appends for the same type.
type Backend interface {
	// Append stores one version. The store guarantees doc.Version is
	// exactly one past the current latest for doc.Type.
	Append(ctx context.Context, doc *Document) error

	// Latest returns the highest version for typ, or (nil, nil) when no
	// version exists.
	Latest(ctx context.Context, typ string) (*Document, error)

	// History returns versions for typ matching q, ascending by version.
	History(ctx context.Context, typ string, q HistoryQuery) ([]*Document, error)

	// Types returns every type with at least one version, sorted.
	Types(ctx context.Context) ([]string, error)
}

// Store is the versioned context surface. Updates to the same type are
// serialized through a per-type mutex, so concurrent writers observe
// consecutive versions with no gaps; different types proceed in
// parallel.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store. logger may be nil.
func New(backend Backend, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Update writes a new version of typ and returns it.
func (s *Store) Update(ctx context.Context, typ string, req UpdateRequest) (*Document, error) {
	if typ == "" {
		return nil, ErrEmptyType
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	lock := s.typeLock(typ)
	lock.Lock()
	defer lock.Unlock()

	latest, err := s.backend.Latest(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("loading latest %q: %w", typ, err)
	}

	doc := &Document{
		Type:      typ,
		Version:   1,
		UpdatedAt: s.now(),
	}
	if latest != nil {
		doc.Version = latest.Version + 1
	}

	switch {
	case req.Full != nil:
		doc.Data = cloneData(req.Full)
	default:
		base := map[string]any{}
		if latest != nil {
			base = cloneData(latest.Data)
		}
		for k, v := range req.Patch {
			if _, isRemove := v.(removal); isRemove {
				delete(base, k)
				continue
			}
			base[k] = v
		}
		doc.Data = base
	}

	if err := s.backend.Append(ctx, doc); err != nil {
		return nil, fmt.Errorf("appending %q v%d: %w", typ, doc.Version, err)
	}
	s.logger.Debug("context updated", "type", typ, "version", doc.Version)
	return doc.Clone(), nil
}

// GetLatest returns the newest version of typ. A type that has never
// been written yields version 0 with an empty map, not an error.
func (s *Store) GetLatest(ctx context.Context, typ string) (*Document, error) {
	if typ == "" {
		return nil, ErrEmptyType
	}
	latest, err := s.backend.Latest(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("loading latest %q: %w", typ, err)
	}
	if latest == nil {
		return &Document{Type: typ, Data: map[string]any{}}, nil
	}
	return latest.Clone(), nil
}

// GetHistory returns versions of typ matching q, ascending by version.
func (s *Store) GetHistory(ctx context.Context, typ string, q HistoryQuery) ([]*Document, error) {
	if typ == "" {
		return nil, ErrEmptyType
	}
	docs, err := s.backend.History(ctx, typ, q)
	if err != nil {
		return nil, fmt.Errorf("loading history %q: %w", typ, err)
	}
	return docs, nil
}

// Types lists every context type with at least one version.
func (s *Store) Types(ctx context.Context) ([]string, error) {
	return s.backend.Types(ctx)
}

func (s *Store) typeLock(typ string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[typ]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[typ] = lock
	}
	return lock
}

func cloneData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// matches applies a HistoryQuery to one version number.
func (q HistoryQuery) matches(version int64) bool {
	if q.Version != 0 {
		return version == q.Version
	}
	if q.After != 0 && version <= q.After {
		return false
	}
	if q.Before != 0 && version >= q.Before {
		return false
	}
	return true
}
