package recall_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/recallkit/recall"
	"github.com/recallkit/recall/internal/log"
	"github.com/recallkit/recall/internal/testutil"
)

func TestMain(m *testing.M) {
	// bleve starts package-global analysis workers that have no shutdown
	// path and survive Engine.Close.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"))
}

func newEngine(t *testing.T, opts ...recall.Option) *recall.Engine {
	t.Helper()

	cfg := recall.DefaultConfig()
	opts = append([]recall.Option{
		recall.WithEmbedder(&testutil.WordEmbedder{}),
		recall.WithLogger(log.NewNop()),
	}, opts...)

	e, err := recall.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return e
}

func TestWithGenkitEmbedderReportsConstructionError(t *testing.T) {
	_, err := recall.New(context.Background(), recall.DefaultConfig(),
		recall.WithLogger(log.NewNop()),
		recall.WithGenkitEmbedder(nil, "gemini-embedding-001", 768))
	if err == nil {
		t.Fatal("expected error for nil genkit embedder")
	}
	if !strings.Contains(err.Error(), "genkit embedder") {
		t.Errorf("error = %v, want the adapter construction cause", err)
	}
}

func TestNewRequiresEmbedder(t *testing.T) {
	_, err := recall.New(context.Background(), recall.DefaultConfig(),
		recall.WithLogger(log.NewNop()))
	if err == nil {
		t.Fatal("expected error without an embedder")
	}
}

func TestStoreAndSearchRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	id, err := e.Store(ctx, "The quick brown fox", recall.ContentTypeText, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := e.Store(ctx, "unrelated database tuning notes",
		recall.ContentTypeAnalysis, nil); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	resp, err := e.Search(ctx, recall.SearchQuery{Text: "quick fox", Limit: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected results")
	}
	if resp.Results[0].Entry.ID != id {
		t.Errorf("top result = %q, want the fox entry", resp.Results[0].Entry.Content)
	}
	if resp.Results[0].Score <= 0.7 {
		t.Errorf("top score = %v, want > 0.7", resp.Results[0].Score)
	}
}

func TestStoreDerivesTitleFromFirstLine(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	id, err := e.Store(ctx, "Design notes\nbody follows here", recall.ContentTypeDecision, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	entry, err := e.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if entry.Title != "Design notes" {
		t.Errorf("title = %q, want first line", entry.Title)
	}
}

func TestCompleteUsesPromptCache(t *testing.T) {
	completer := &testutil.ScriptedCompleter{
		ProviderName: "scripted",
		Default:      "forty-two",
	}
	e := newEngine(t, recall.WithCompleter(completer))
	ctx := context.Background()

	req := &recall.Request{
		Model:    "gpt-4o",
		Messages: []recall.Message{{Role: "user", Content: "meaning of life"}},
	}

	first, cached, err := e.Complete(ctx, "scripted", req, recall.CacheOptions{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if cached {
		t.Error("first call reported as cached")
	}
	if first.Content != "forty-two" {
		t.Errorf("content = %q", first.Content)
	}

	second, cached, err := e.Complete(ctx, "scripted", req, recall.CacheOptions{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !cached {
		t.Error("second call not served from cache")
	}
	if second.Content != first.Content {
		t.Errorf("cached content = %q, want %q", second.Content, first.Content)
	}
	if completer.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", completer.Calls())
	}

	m := e.CacheMetrics()
	if m.Hits < 1 {
		t.Errorf("metrics = %+v, want at least 1 hit", m)
	}
}

func TestCompleteUnknownProvider(t *testing.T) {
	e := newEngine(t)

	_, _, err := e.Complete(context.Background(), "nope", &recall.Request{
		Model:    "m",
		Messages: []recall.Message{{Role: "user", Content: "hi"}},
	}, recall.CacheOptions{})
	if !errors.Is(err, recall.ErrUnknownProvider) {
		t.Errorf("Complete() error = %v, want ErrUnknownProvider", err)
	}
}

func TestWarmCacheReachesProvider(t *testing.T) {
	completer := &testutil.ScriptedCompleter{Default: "ok"}
	e := newEngine(t, recall.WithCompleter(completer))

	prompts := []string{"a", "b"}
	if err := e.WarmCache(context.Background(), "scripted", prompts); err != nil {
		t.Fatalf("WarmCache() error = %v", err)
	}
	warmed := completer.Warmed()
	if len(warmed) != 1 || len(warmed[0]) != 2 {
		t.Errorf("warmed = %v, want one batch of two prompts", warmed)
	}
}

func TestContextVersioning(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.UpdateContext(ctx, "project", recall.ContextUpdate{
		Full: map[string]any{"phase": "alpha", "owner": "kim"},
	}); err != nil {
		t.Fatalf("UpdateContext() error = %v", err)
	}
	doc, err := e.UpdateContext(ctx, "project", recall.ContextUpdate{
		Patch: map[string]any{"phase": "beta", "owner": recall.RemoveKey},
	})
	if err != nil {
		t.Fatalf("UpdateContext() error = %v", err)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want 2", doc.Version)
	}

	latest, err := e.GetContext(ctx, "project")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if latest.Data["phase"] != "beta" {
		t.Errorf("phase = %v, want beta", latest.Data["phase"])
	}
	if _, ok := latest.Data["owner"]; ok {
		t.Error("removed key still present")
	}

	history, err := e.ContextHistory(ctx, "project", recall.ContextHistoryQuery{})
	if err != nil {
		t.Fatalf("ContextHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}

	types, err := e.ContextTypes(ctx)
	if err != nil {
		t.Fatalf("ContextTypes() error = %v", err)
	}
	if len(types) != 1 || types[0] != "project" {
		t.Errorf("types = %v, want [project]", types)
	}
}

func TestEntryLifecycleThroughFacade(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	entry, err := e.CreateEntry(ctx, recall.CreateInput{
		Title:       "Pooling",
		Content:     "connection pooling notes",
		ContentType: recall.ContentTypeAnalysis,
		Category:    "infra",
		Tags:        []string{"db"},
	})
	if err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}

	byCat, err := e.EntriesByCategory(ctx, "infra", 10)
	if err != nil || len(byCat) != 1 {
		t.Fatalf("EntriesByCategory() = %d entries, err %v", len(byCat), err)
	}
	byTag, err := e.EntriesByTag(ctx, "db", 10)
	if err != nil || len(byTag) != 1 {
		t.Fatalf("EntriesByTag() = %d entries, err %v", len(byTag), err)
	}

	content := "revised pooling notes"
	updated, err := e.UpdateEntry(ctx, entry.ID, recall.Patch{Content: &content})
	if err != nil {
		t.Fatalf("UpdateEntry() error = %v", err)
	}
	if updated.Content != content {
		t.Errorf("content = %q", updated.Content)
	}

	ok, err := e.DeleteEntry(ctx, entry.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteEntry() = %v, %v", ok, err)
	}
	if _, err := e.GetEntry(ctx, entry.ID); !errors.Is(err, recall.ErrNotFound) {
		t.Errorf("GetEntry() after delete error = %v, want ErrNotFound", err)
	}
}

func TestEmbedCacheStatsThroughFacade(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "some text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := e.Embed(ctx, "some text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	stats := e.EmbedCacheStats()
	if stats.Hits != 1 || stats.ProviderCalls != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 provider call", stats)
	}
}
