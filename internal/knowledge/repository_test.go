package knowledge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recall/internal/embedcache"
	"github.com/recallkit/recall/internal/knowledge"
	"github.com/recallkit/recall/internal/log"
	"github.com/recallkit/recall/internal/testutil"
)

func newRepo(t *testing.T, embedder *testutil.WordEmbedder) *knowledge.Repository {
	t.Helper()
	embeds, err := embedcache.New(embedder, nil, log.NewNop(), 0)
	if err != nil {
		t.Fatalf("embedcache.New() error = %v", err)
	}
	repo, err := knowledge.NewRepository(knowledge.NewMemStore(), embeds, log.NewNop())
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func TestRepositoryCreateEmbedsEntry(t *testing.T) {
	embedder := &testutil.WordEmbedder{}
	repo := newRepo(t, embedder)
	ctx := context.Background()

	e, err := repo.Create(ctx, knowledge.CreateInput{
		Title:       "Caching strategies",
		Content:     "LRU eviction with TTL expiry",
		ContentType: knowledge.ContentTypeAnalysis,
		Category:    "design",
		Tags:        []string{"cache", "lru"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" {
		t.Error("expected generated id")
	}
	if len(e.Vector) != testutil.WordDim {
		t.Errorf("vector dimension = %d, want %d", len(e.Vector), testutil.WordDim)
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if embedder.Calls() != 1 {
		t.Errorf("embedder calls = %d, want 1", embedder.Calls())
	}
}

func TestRepositoryCreateValidation(t *testing.T) {
	repo := newRepo(t, &testutil.WordEmbedder{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   knowledge.CreateInput
	}{
		{"empty content", knowledge.CreateInput{ContentType: knowledge.ContentTypeText}},
		{"whitespace content", knowledge.CreateInput{Content: "  \n ", ContentType: knowledge.ContentTypeText}},
		{"invalid type", knowledge.CreateInput{Content: "x", ContentType: "poetry"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.Create(ctx, tt.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRepositoryCreateFailsWhenEmbeddingFails(t *testing.T) {
	embedder := &testutil.WordEmbedder{Fail: errors.New("embedder down")}
	repo := newRepo(t, embedder)
	ctx := context.Background()

	_, err := repo.Create(ctx, knowledge.CreateInput{
		Content:     "doomed",
		ContentType: knowledge.ContentTypeText,
	})
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}

	// Nothing was stored.
	entries, _ := repo.Storage().All(ctx)
	if len(entries) != 0 {
		t.Errorf("stored entries = %d, want 0", len(entries))
	}
}

func TestRepositoryGetRecordsAccess(t *testing.T) {
	repo := newRepo(t, &testutil.WordEmbedder{})
	ctx := context.Background()

	e, err := repo.Create(ctx, knowledge.CreateInput{
		Content:     "tracked",
		ContentType: knowledge.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got.AccessCount)
	}

	// Peek does not record.
	peeked, err := repo.Peek(ctx, e.ID)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if peeked.AccessCount != 1 {
		t.Errorf("access count after Peek = %d, want still 1", peeked.AccessCount)
	}
}

func TestRepositoryUpdateReembedsOnlyWhenNeeded(t *testing.T) {
	embedder := &testutil.WordEmbedder{}
	repo := newRepo(t, embedder)
	ctx := context.Background()

	e, err := repo.Create(ctx, knowledge.CreateInput{
		Content:     "original content",
		ContentType: knowledge.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	callsAfterCreate := embedder.Calls()

	// Category-only patch must not re-embed.
	category := "revised"
	if _, err := repo.Update(ctx, e.ID, knowledge.Patch{Category: &category}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if embedder.Calls() != callsAfterCreate {
		t.Error("category-only patch triggered re-embedding")
	}

	// Content patch must re-embed.
	content := "completely different content"
	updated, err := repo.Update(ctx, e.ID, knowledge.Patch{Content: &content})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if embedder.Calls() != callsAfterCreate+1 {
		t.Error("content patch did not re-embed")
	}
	if updated.Content != content || updated.Category != "revised" {
		t.Errorf("patch result = %+v", updated)
	}
}

func TestRepositoryUpdateNotFound(t *testing.T) {
	repo := newRepo(t, &testutil.WordEmbedder{})

	content := "x"
	_, err := repo.Update(context.Background(), "missing", knowledge.Patch{Content: &content})
	if !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

type recordingListener struct {
	upserts []string
	deletes []string
}

func (r *recordingListener) EntryUpserted(e *knowledge.Entry) { r.upserts = append(r.upserts, e.ID) }
func (r *recordingListener) EntryDeleted(id string)           { r.deletes = append(r.deletes, id) }

func TestRepositoryNotifiesListeners(t *testing.T) {
	repo := newRepo(t, &testutil.WordEmbedder{})
	ctx := context.Background()

	var rec recordingListener
	repo.Subscribe(&rec)

	e, err := repo.Create(ctx, knowledge.CreateInput{
		Content:     "observable",
		ContentType: knowledge.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	title := "renamed"
	if _, err := repo.Update(ctx, e.ID, knowledge.Patch{Title: &title}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := repo.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(rec.upserts) != 2 {
		t.Errorf("upsert notifications = %d, want 2", len(rec.upserts))
	}
	if len(rec.deletes) != 1 || rec.deletes[0] != e.ID {
		t.Errorf("delete notifications = %v, want [%s]", rec.deletes, e.ID)
	}

	// Deleting an absent entry must not notify.
	if _, err := repo.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(rec.deletes) != 1 {
		t.Error("delete of absent entry produced a notification")
	}
}

func TestRepositoryListTypes(t *testing.T) {
	repo := newRepo(t, &testutil.WordEmbedder{})

	types := repo.ListTypes()
	if len(types) != 7 {
		t.Fatalf("ListTypes() returned %d types, want 7", len(types))
	}
	for _, ct := range types {
		if !ct.Valid() {
			t.Errorf("ListTypes() returned invalid type %q", ct)
		}
	}
}
