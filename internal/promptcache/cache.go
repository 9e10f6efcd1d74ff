// Package promptcache implements the multi-provider semantic response
// cache: exact-match lookup by (provider, model, content) hash, optional
// similarity lookup within the same provider/model scope, TTL and LRU
// eviction, and incrementally maintained metrics.
//
// The similarity index holds only entries that have an embedding; every
// indexed entry always has a corresponding entry in the primary cache.
// Insert and eviction maintain both structures inside one critical section
// so the invariant cannot be observed broken.
//
// The similarity lookup is a linear scan, acceptable for the bounded cache
// sizes this engine targets (hundreds to low thousands of entries). Larger
// deployments need an approximate-nearest-neighbour index behind the same
// lookup seam.
package promptcache

import (
	"context"
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/recallkit/recall/internal/embedcache"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxSize             = 1000
	DefaultTTL                 = 1 * time.Hour
	DefaultSimilarityThreshold = 0.85
	DefaultCostPerKiloToken    = 0.002
)

// Config configures a Cache.
type Config struct {
	// MaxSize bounds the number of entries; exceeding it evicts the
	// least recently used entry.
	MaxSize int

	// TTL is the default entry lifetime. Zero selects DefaultTTL;
	// negative disables expiry.
	TTL time.Duration

	// SimilarityThreshold is the minimum cosine similarity for a
	// semantic hit.
	SimilarityThreshold float64

	// SemanticMatching enables the similarity lookup path. Requires an
	// embedding cache.
	SemanticMatching bool

	// CostPerKiloToken prices a cache hit for the savings metric.
	CostPerKiloToken float64
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.CostPerKiloToken <= 0 {
		c.CostPerKiloToken = DefaultCostPerKiloToken
	}
	return c
}

// PutOptions carries optional metadata for Put.
type PutOptions struct {
	// TTL overrides the cache-level default when > 0.
	TTL time.Duration

	// CacheHint marks high-value content that eviction should prefer
	// to keep.
	CacheHint bool

	// TokenEstimate overrides the heuristic estimate when > 0.
	TokenEstimate int
}

// Cache is the semantic prompt cache. Safe for concurrent use.
type Cache struct {
	cfg    Config
	embeds *embedcache.Cache // nil disables similarity matching
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element // id -> element holding *Entry
	lru     *list.List               // front = most recently used
	scopes  map[string][]*Entry      // scopeKey -> entries with embeddings

	metrics       Metrics
	totalDuration time.Duration
}

// New creates a Cache. embeds may be nil, which disables semantic
// matching regardless of Config.SemanticMatching.
func New(cfg Config, embeds *embedcache.Cache, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:     cfg.withDefaults(),
		embeds:  embeds,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		scopes:  make(map[string][]*Entry),
	}
}

// Get looks up a cached response for (content, provider, model).
//
// Lookup order: exact match by id hash first; then, when semantic matching
// is enabled, a similarity scan over entries in the same (provider, model)
// scope, selecting the best cosine similarity at or above the threshold
// (ties broken by most recent LastHitAt). A hit of either kind touches the
// matched entry: HitCount increments and LastHitAt updates.
//
// A failure while embedding the lookup content only disables the
// similarity path for this call; it is logged and absorbed.
func (c *Cache) Get(ctx context.Context, content, providerName, model string) (*Entry, bool) {
	start := c.now()
	defer c.observe(start)

	id := EntryID(providerName, model, content)

	c.mu.Lock()
	c.metrics.TotalRequests++
	if e, ok := c.exactLocked(id); ok {
		c.metrics.Hits++
		c.creditSavings(e)
		out := *e
		c.mu.Unlock()
		return &out, true
	}
	semantic := c.cfg.SemanticMatching && c.embeds != nil
	c.mu.Unlock()

	if semantic {
		if e, ok := c.semanticLookup(ctx, content, providerName, model); ok {
			return e, true
		}
	}

	c.mu.Lock()
	c.metrics.Misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores payload for (content, provider, model) and returns the entry
// id. When semantic matching is enabled it also computes an embedding for
// the similarity index; a failure there is logged and swallowed, and the
// entry is stored without similarity eligibility.
func (c *Cache) Put(ctx context.Context, content string, payload any, providerName, model string, opts PutOptions) string {
	var embedding []float32
	if c.cfg.SemanticMatching && c.embeds != nil {
		vec, err := c.embeds.Generate(ctx, content)
		if err != nil {
			// Secondary path: the entry still caches, exact-match only.
			c.logger.Warn("similarity index embedding failed; storing entry without embedding",
				"provider", providerName, "model", model, "error", err)
		} else {
			embedding = vec
		}
	}

	id := EntryID(providerName, model, content)
	now := c.now()

	tokens := opts.TokenEstimate
	if tokens <= 0 {
		tokens = EstimateTokens(content)
	}

	entry := &Entry{
		ID:            id,
		Content:       content,
		Embedding:     embedding,
		Provider:      providerName,
		Model:         model,
		Payload:       payload,
		CreatedAt:     now,
		LastHitAt:     now,
		TokenEstimate: tokens,
		CacheHint:     opts.CacheHint,
	}
	ttl := c.cfg.TTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		// Refresh in place, keeping hit history.
		old := elem.Value.(*Entry)
		entry.HitCount = old.HitCount
		c.removeFromScopeLocked(old)
		elem.Value = entry
		c.lru.MoveToFront(elem)
	} else {
		c.entries[id] = c.lru.PushFront(entry)
	}
	if entry.Embedding != nil {
		scope := scopeKey(providerName, model)
		c.scopes[scope] = append(c.scopes[scope], entry)
	}

	c.evictLocked()
	c.metrics.CacheSize = len(c.entries)
	return id
}

// Fetch returns the cached response for (content, provider, model) or,
// on a miss, executes compute exactly once (concurrent misses for the
// same key are coalesced) and stores its result. A compute failure is the
// primary path failing and always propagates; nothing is cached.
func (c *Cache) Fetch(ctx context.Context, content, providerName, model string, opts PutOptions, compute func(ctx context.Context) (any, error)) (*Entry, error) {
	if e, ok := c.Get(ctx, content, providerName, model); ok {
		return e, nil
	}

	id := EntryID(providerName, model, content)
	v, err, _ := c.group.Do(id, func() (any, error) {
		// Another flight may have stored the entry already.
		c.mu.Lock()
		if e, ok := c.exactLocked(id); ok {
			out := *e
			c.mu.Unlock()
			return &out, nil
		}
		c.mu.Unlock()

		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, content, payload, providerName, model, opts)

		c.mu.Lock()
		defer c.mu.Unlock()
		if elem, ok := c.entries[id]; ok {
			out := *elem.Value.(*Entry)
			return &out, nil
		}
		// Entry evicted between Put and re-read (cache smaller than the
		// working set). Serve the computed payload directly.
		return &Entry{ID: id, Content: content, Provider: providerName, Model: model, Payload: payload}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("prompt cache fetch: %w", err)
	}
	return v.(*Entry), nil
}

// Snapshot returns current metrics. O(1): every field is maintained
// incrementally by the operations themselves.
func (c *Cache) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metrics
	m.CacheSize = len(c.entries)
	if m.TotalRequests > 0 {
		m.HitRate = float64(m.Hits) / float64(m.TotalRequests)
		m.MissRate = float64(m.Misses) / float64(m.TotalRequests)
		m.AverageResponseTime = c.totalDuration / time.Duration(m.TotalRequests)
	}
	return m
}

// exactLocked returns a live entry by id, expiring it lazily.
// Touches the entry on hit. Caller holds c.mu.
func (c *Cache) exactLocked(id string) (*Entry, bool) {
	elem, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*Entry)
	if e.expired(c.now()) {
		c.removeLocked(elem, e)
		c.metrics.Expirations++
		return nil, false
	}
	e.HitCount++
	e.LastHitAt = c.now()
	c.lru.MoveToFront(elem)
	return e, true
}

// semanticLookup scans the (provider, model) scope for the closest entry
// at or above the similarity threshold.
func (c *Cache) semanticLookup(ctx context.Context, content, providerName, model string) (*Entry, bool) {
	queryVec, err := c.embeds.Generate(ctx, content)
	if err != nil {
		// Secondary path: degrade to exact-match-only for this lookup.
		c.logger.Warn("semantic lookup embedding failed", "provider", providerName, "model", model, "error", err)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var best *Entry
	var bestScore float64
	for _, e := range c.scopes[scopeKey(providerName, model)] {
		if e.expired(now) {
			continue // swept on the next Put or exact lookup
		}
		score := Cosine(queryVec, e.Embedding)
		if score < c.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && e.LastHitAt.After(best.LastHitAt)) {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, false
	}

	best.HitCount++
	best.LastHitAt = now
	if elem, ok := c.entries[best.ID]; ok {
		c.lru.MoveToFront(elem)
	}
	c.metrics.Hits++
	c.creditSavings(best)
	out := *best
	return &out, true
}

// evictLocked removes least-recently-used entries until the cache fits.
// Hinted entries are kept while any unhinted candidate remains.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.cfg.MaxSize {
		victim := c.lru.Back()
		for victim != nil && victim.Value.(*Entry).CacheHint {
			victim = victim.Prev()
		}
		if victim == nil {
			victim = c.lru.Back() // everything is hinted; evict LRU anyway
		}
		if victim == nil {
			return
		}
		e := victim.Value.(*Entry)
		c.removeLocked(victim, e)
		c.metrics.Evictions++
		c.logger.Debug("evicted cache entry", "id", e.ID, "provider", e.Provider, "hits", e.HitCount)
	}
}

// removeLocked deletes an entry from the primary cache, the LRU list, and
// the similarity index in one step, preserving the referential invariant.
func (c *Cache) removeLocked(elem *list.Element, e *Entry) {
	c.lru.Remove(elem)
	delete(c.entries, e.ID)
	c.removeFromScopeLocked(e)
	c.metrics.CacheSize = len(c.entries)
}

func (c *Cache) removeFromScopeLocked(e *Entry) {
	if e.Embedding == nil {
		return
	}
	scope := scopeKey(e.Provider, e.Model)
	indexed := c.scopes[scope]
	for i, candidate := range indexed {
		if candidate.ID == e.ID {
			c.scopes[scope] = append(indexed[:i], indexed[i+1:]...)
			break
		}
	}
	if len(c.scopes[scope]) == 0 {
		delete(c.scopes, scope)
	}
}

// creditSavings accounts a hit against the savings metric. Caller holds c.mu.
func (c *Cache) creditSavings(e *Entry) {
	c.metrics.EstimatedCostSavings += float64(e.TokenEstimate) / 1000 * c.cfg.CostPerKiloToken
}

func (c *Cache) observe(start time.Time) {
	elapsed := c.now().Sub(start)
	c.mu.Lock()
	c.totalDuration += elapsed
	c.mu.Unlock()
}
