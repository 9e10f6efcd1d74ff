// Package search implements hybrid retrieval over the knowledge corpus:
// a vector-similarity path and a full-text path run concurrently, and
// their results are merged into one ranked response.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallkit/recall/internal/embedcache"
	"github.com/recallkit/recall/internal/knowledge"
)

// DefaultLimit is the result count when a query does not set one.
const DefaultLimit = 10

// VectorIndex ranks entries by similarity inside the storage backend.
// PGStore provides this; when absent, the engine falls back to a linear
// scan over Storage.All.
type VectorIndex interface {
	NearestNeighbors(ctx context.Context, vec []float32, k int) ([]knowledge.Scored, error)
}

// Config tunes the engine.
type Config struct {
	// MinVectorScore drops vector matches below this cosine similarity.
	MinVectorScore float64
	// ResultTTL bounds how long merged responses are served from cache.
	ResultTTL time.Duration
}

// Engine runs hybrid queries. It keeps the lexical index in sync with
// the repository via the knowledge.Listener callbacks, so construct it,
// then Subscribe it on the repository.
type Engine struct {
	storage  knowledge.Storage
	embedder *embedcache.Cache
	lexical  *LexicalIndex
	vindex   VectorIndex
	cache    *resultCache
	logger   *slog.Logger
	cfg      Config
}

// NewEngine creates an Engine. vindex may be nil (linear scan is used);
// logger may be nil.
func NewEngine(storage knowledge.Storage, embedder *embedcache.Cache, vindex VectorIndex, cfg Config, logger *slog.Logger) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	lexical, err := NewLexicalIndex()
	if err != nil {
		return nil, err
	}
	return &Engine{
		storage:  storage,
		embedder: embedder,
		lexical:  lexical,
		vindex:   vindex,
		cache:    newResultCache(cfg.ResultTTL),
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// Warm loads the current storage contents into the lexical index. Call
// once at startup when storage may be non-empty.
func (e *Engine) Warm(ctx context.Context) error {
	entries, err := e.storage.All(ctx)
	if err != nil {
		return fmt.Errorf("warming lexical index: %w", err)
	}
	return e.lexical.Rebuild(entries)
}

// EntryUpserted implements knowledge.Listener.
func (e *Engine) EntryUpserted(entry *knowledge.Entry) {
	if err := e.lexical.Upsert(entry); err != nil {
		e.logger.Warn("lexical index update failed", "id", entry.ID, "error", err)
	}
	e.cache.invalidate()
}

// EntryDeleted implements knowledge.Listener.
func (e *Engine) EntryDeleted(id string) {
	if err := e.lexical.Remove(id); err != nil {
		e.logger.Warn("lexical index removal failed", "id", id, "error", err)
	}
	e.cache.invalidate()
}

// Search runs the hybrid query. Both retrieval paths run concurrently;
// a vector-path failure degrades the response to lexical-only rather
// than failing the query, and the Degraded flag records that.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("query text is required")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	key := queryKey(q)
	if resp, ok := e.cache.get(key); ok {
		return &resp, nil
	}

	var (
		vectorHits  []Result
		lexicalHits []Result
		vectorErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.vectorSearch(gctx, q)
		if err != nil {
			// Degrade instead of failing: the error is recorded and
			// the lexical side still answers.
			vectorErr = err
			return nil
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.lexicalSearch(gctx, q)
		if err != nil {
			return err
		}
		lexicalHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if vectorErr != nil {
		e.logger.Warn("vector search degraded to lexical-only", "error", vectorErr)
	}

	resp := Response{
		Results:  merge(vectorHits, lexicalHits, q.Limit),
		Degraded: vectorErr != nil,
	}
	e.cache.put(key, resp)
	return &resp, nil
}

// vectorSearch embeds the query and ranks entries by cosine similarity,
// through the index pushdown when available and unfiltered, otherwise by
// scanning storage.
func (e *Engine) vectorSearch(ctx context.Context, q Query) ([]Result, error) {
	vec, err := e.embedder.Generate(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if e.vindex != nil && q.Filters.empty() {
		scored, err := e.vindex.NearestNeighbors(ctx, vec, q.Limit)
		if err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(scored))
		for _, s := range scored {
			if s.Score < e.cfg.MinVectorScore {
				continue
			}
			out = append(out, Result{Entry: s.Entry, Score: s.Score, Match: MatchVector})
		}
		return out, nil
	}

	entries, err := e.storage.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, entry := range entries {
		if !q.Filters.matches(entry) {
			continue
		}
		score := cosine(vec, entry.Vector)
		if score < e.cfg.MinVectorScore {
			continue
		}
		out = append(out, Result{Entry: entry, Score: score, Match: MatchVector})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// lexicalSearch queries the full-text index, then resolves hits against
// storage and applies filters. Hits whose entries vanished between the
// index lookup and the fetch are skipped.
func (e *Engine) lexicalSearch(ctx context.Context, q Query) ([]Result, error) {
	// Over-fetch so post-filtering still fills the limit.
	k := q.Limit
	if !q.Filters.empty() {
		k *= 4
	}
	hits, err := e.lexical.Query(ctx, q.Text, k)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		entry, err := e.storage.Get(ctx, h.ID)
		if err != nil {
			continue
		}
		if !q.Filters.matches(entry) {
			continue
		}
		out = append(out, Result{Entry: entry, Score: h.Score, Match: MatchLexical})
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// merge combines both paths, deduplicating by entry id. When both paths
// return the same entry the vector result wins: its score is a bounded
// similarity, not a normalized rank.
func merge(vector, lexical []Result, limit int) []Result {
	seen := make(map[string]struct{}, len(vector))
	out := make([]Result, 0, len(vector)+len(lexical))
	for _, r := range vector {
		seen[r.Entry.ID] = struct{}{}
		out = append(out, r)
	}
	for _, r := range lexical {
		if _, dup := seen[r.Entry.ID]; dup {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Close releases the lexical index.
func (e *Engine) Close() error { return e.lexical.Close() }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
