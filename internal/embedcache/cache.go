// Package embedcache deduplicates calls to the embedding provider.
//
// Lookups are exact-match by content hash, partitioned by model so a model
// change never serves stale vectors. Concurrent misses for the same text
// are coalesced into a single outbound call: at most one provider request
// is in flight per distinct (model, text) pair.
package embedcache

import (
	"context"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/recallkit/recall/internal/provider"
)

// DefaultMaxSize bounds the number of cached vectors.
const DefaultMaxSize = 10000

// Stats is a point-in-time snapshot of cache counters, maintained
// incrementally on every operation.
type Stats struct {
	Hits          int64
	Misses        int64
	ProviderCalls int64
	Evictions     int64
	Size          int
}

type entry struct {
	key    string
	vector []float32
}

// Cache is a size-bounded (LRU) embedding cache in front of a
// provider.Embedder. Safe for concurrent use by multiple goroutines.
type Cache struct {
	embedder provider.Embedder
	retryer  *provider.Retryer
	logger   *slog.Logger
	maxSize  int

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element // key -> element holding *entry
	lru     *list.List               // front = most recently used
	stats   Stats
}

// New creates a Cache. retryer may be nil (calls go out unretried);
// logger may be nil; maxSize <= 0 selects DefaultMaxSize.
func New(embedder provider.Embedder, retryer *provider.Retryer, logger *slog.Logger, maxSize int) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		embedder: embedder,
		retryer:  retryer,
		logger:   logger,
		maxSize:  maxSize,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}, nil
}

// Key returns the deterministic cache key for (model, text).
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Generate returns the embedding for text, from cache when possible.
// On a miss it calls the provider under the retry policy; concurrent
// misses for the same key share one outbound call.
func (c *Cache) Generate(ctx context.Context, text string) ([]float32, error) {
	key := Key(c.embedder.Model(), text)

	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	// singleflight joins concurrent callers for the same key; later
	// arrivals observe the first caller's result. The shared call runs
	// under the first caller's context, which is acceptable: all waiters
	// asked for the same work.
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A previous flight may have populated the cache between our
		// lookup and joining the group. Not counted as a hit or miss:
		// the outer lookup already recorded this request.
		if vec, ok := c.peek(key); ok {
			return vec, nil
		}

		vec, err := c.callProvider(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneVector(v.([]float32)), nil
}

// Model returns the active embedding model.
func (c *Cache) Model() string { return c.embedder.Model() }

// Dimension returns the configured vector dimension, or 0 if unknown.
func (c *Cache) Dimension() int { return c.embedder.Dimension() }

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

func (c *Cache) lookup(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	return cloneVector(elem.Value.(*entry).vector), true
}

func (c *Cache) peek(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return cloneVector(elem.Value.(*entry).vector), true
}

func (c *Cache) callProvider(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.stats.ProviderCalls++
	c.mu.Unlock()

	var vec []float32
	call := func(ctx context.Context) error {
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}

	var err error
	if c.retryer != nil {
		err = c.retryer.Do(ctx, "embed", call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}

	if dim := c.embedder.Dimension(); dim > 0 && len(vec) != dim {
		return nil, provider.Permanent(c.embedder.Model(), "embed",
			fmt.Errorf("embedding dimension %d, expected %d", len(vec), dim))
	}
	return vec, nil
}

func (c *Cache) store(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry).vector = vec
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lru.PushFront(&entry{key: key, vector: vec})

	for len(c.entries) > c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, evicted.key)
		c.stats.Evictions++
	}
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
