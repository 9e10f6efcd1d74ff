package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recall/internal/embedcache"
)

// Listener receives change notifications after a mutation commits.
// Callbacks run synchronously on the mutating goroutine and must be fast.
type Listener interface {
	EntryUpserted(e *Entry)
	EntryDeleted(id string)
}

// Repository is the write-through surface over Storage. Every persisted
// entry carries an embedding produced at write time; if the embedding
// cannot be produced, the write fails and nothing is stored.
type Repository struct {
	storage  Storage
	embedder *embedcache.Cache
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

// NewRepository creates a Repository. logger may be nil.
func NewRepository(storage Storage, embedder *embedcache.Cache, logger *slog.Logger) (*Repository, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		storage:  storage,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Subscribe registers a listener for entry mutations.
func (r *Repository) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Create validates the input, embeds it, and stores a new entry.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Entry, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}
	if !in.ContentType.Valid() {
		return nil, fmt.Errorf("invalid content type %q", in.ContentType)
	}

	now := r.now()
	e := &Entry{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Content:         in.Content,
		ContentType:     in.ContentType,
		Category:        in.Category,
		Tags:            append([]string(nil), in.Tags...),
		SourceReference: in.SourceReference,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	vec, err := r.embedder.Generate(ctx, embedText(e))
	if err != nil {
		return nil, fmt.Errorf("embedding entry: %w", err)
	}
	e.Vector = vec

	if err := r.storage.Insert(ctx, e); err != nil {
		return nil, err
	}
	r.logger.Debug("knowledge entry created",
		"id", e.ID, "type", e.ContentType, "category", e.Category)
	r.notifyUpserted(e)
	return e.Clone(), nil
}

// Get returns the entry and records the access (count + timestamp).
func (r *Repository) Get(ctx context.Context, id string) (*Entry, error) {
	return r.storage.TouchAccess(ctx, id, r.now())
}

// Peek returns the entry without recording an access.
func (r *Repository) Peek(ctx context.Context, id string) (*Entry, error) {
	return r.storage.Get(ctx, id)
}

// Update applies a partial patch. The entry is re-embedded only when a
// field feeding the embedded text changed.
func (r *Repository) Update(ctx context.Context, id string, p Patch) (*Entry, error) {
	e, err := r.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" {
			return nil, fmt.Errorf("content cannot be emptied")
		}
		e.Content = *p.Content
	}
	if p.ContentType != nil {
		if !p.ContentType.Valid() {
			return nil, fmt.Errorf("invalid content type %q", *p.ContentType)
		}
		e.ContentType = *p.ContentType
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Tags != nil {
		e.Tags = append([]string(nil), p.Tags...)
	}
	if p.SourceReference != nil {
		e.SourceReference = *p.SourceReference
	}
	e.UpdatedAt = r.now()

	if p.touchesEmbedding() {
		vec, err := r.embedder.Generate(ctx, embedText(e))
		if err != nil {
			return nil, fmt.Errorf("re-embedding entry: %w", err)
		}
		e.Vector = vec
	}

	if err := r.storage.Update(ctx, e); err != nil {
		return nil, err
	}
	r.logger.Debug("knowledge entry updated", "id", e.ID)
	r.notifyUpserted(e)
	return e.Clone(), nil
}

// Delete removes the entry. Reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.storage.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		r.logger.Debug("knowledge entry deleted", "id", id)
		r.notifyDeleted(id)
	}
	return ok, nil
}

// ListByCategory returns up to limit entries in category, newest first.
func (r *Repository) ListByCategory(ctx context.Context, category string, limit int) ([]*Entry, error) {
	return r.storage.ListByCategory(ctx, category, limit)
}

// ListByTag returns up to limit entries carrying tag, newest first.
func (r *Repository) ListByTag(ctx context.Context, tag string, limit int) ([]*Entry, error) {
	return r.storage.ListByTag(ctx, tag, limit)
}

// MostAccessed returns up to limit entries by descending access count.
func (r *Repository) MostAccessed(ctx context.Context, limit int) ([]*Entry, error) {
	return r.storage.MostAccessed(ctx, limit)
}

// ListTypes returns the known content types in declaration order.
func (r *Repository) ListTypes() []ContentType {
	return []ContentType{
		ContentTypeText, ContentTypeCode, ContentTypeDecision, ContentTypeAnalysis,
		ContentTypeSolution, ContentTypeEvaluation, ContentTypeIntegration,
	}
}

// Storage exposes the underlying store, for consumers that need raw
// scans (the search engine's linear vector path).
func (r *Repository) Storage() Storage { return r.storage }

func (r *Repository) notifyUpserted(e *Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.listeners {
		l.EntryUpserted(e.Clone())
	}
}

func (r *Repository) notifyDeleted(id string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.listeners {
		l.EntryDeleted(id)
	}
}

// embedText builds the text embedded for an entry. Title and tags are
// folded in so searches match on them too, not just the body.
func embedText(e *Entry) string {
	var b strings.Builder
	if e.Title != "" {
		b.WriteString(e.Title)
		b.WriteString("\n")
	}
	b.WriteString(e.Content)
	if len(e.Tags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.Tags, " "))
	}
	return b.String()
}
