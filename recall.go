// Package recall is a semantic cache and hybrid retrieval engine: an
// embedding cache with request coalescing, a multi-provider semantic
// prompt cache, a knowledge repository with vector and full-text search,
// and a versioned context store.
//
// Construct an Engine with New, register completion providers, and use
// the Engine methods as the single entry point; the component packages
// under internal/ are not importable directly.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/contextstore"
	"github.com/recallkit/recall/internal/embedcache"
	"github.com/recallkit/recall/internal/knowledge"
	"github.com/recallkit/recall/internal/log"
	"github.com/recallkit/recall/internal/promptcache"
	"github.com/recallkit/recall/internal/provider"
	"github.com/recallkit/recall/internal/search"
)

// Aliases re-export the component types that appear in the Engine API.
type (
	// Config is the engine configuration. See LoadConfig and DefaultConfig.
	Config = config.Config

	// Embedder generates vector embeddings. Implementations classify
	// failures with TransientError / PermanentError.
	Embedder = provider.Embedder

	// Completer executes completion requests against one provider.
	Completer = provider.Completer

	// Message, Request, Usage, and Completion are the completion wire types.
	Message    = provider.Message
	Request    = provider.Request
	Usage      = provider.Usage
	Completion = provider.Completion

	// Entry, ContentType, CreateInput, and Patch are the knowledge types.
	Entry       = knowledge.Entry
	ContentType = knowledge.ContentType
	CreateInput = knowledge.CreateInput
	Patch       = knowledge.Patch

	// CacheEntry and CacheMetrics describe the prompt cache.
	CacheEntry   = promptcache.Entry
	CacheMetrics = promptcache.Metrics
	CacheOptions = promptcache.PutOptions

	// EmbedStats describes the embedding cache.
	EmbedStats = embedcache.Stats

	// SearchQuery, SearchFilters, SearchResult, and SearchResponse are the
	// hybrid search types.
	SearchQuery    = search.Query
	SearchFilters  = search.Filters
	SearchResult   = search.Result
	SearchResponse = search.Response

	// ContextDocument, ContextUpdate, and ContextHistoryQuery are the
	// versioned context types.
	ContextDocument     = contextstore.Document
	ContextUpdate       = contextstore.UpdateRequest
	ContextHistoryQuery = contextstore.HistoryQuery

	// KnowledgeStorage and ContextBackend are the pluggable persistence
	// contracts, for callers bringing their own backends.
	KnowledgeStorage = knowledge.Storage
	ContextBackend   = contextstore.Backend
)

// Content type identifiers.
const (
	ContentTypeText        = knowledge.ContentTypeText
	ContentTypeCode        = knowledge.ContentTypeCode
	ContentTypeDecision    = knowledge.ContentTypeDecision
	ContentTypeAnalysis    = knowledge.ContentTypeAnalysis
	ContentTypeSolution    = knowledge.ContentTypeSolution
	ContentTypeEvaluation  = knowledge.ContentTypeEvaluation
	ContentTypeIntegration = knowledge.ContentTypeIntegration
)

// Well-known context document types. The store accepts any non-empty
// type; these two cover the common project-state split.
const (
	ContextTypeProduct = "product"
	ContextTypeActive  = "active"
)

// RemoveKey is the context patch value that deletes a key.
var RemoveKey = contextstore.Remove

// Sentinel errors re-exported for errors.Is checks.
var (
	ErrNotFound        = knowledge.ErrNotFound
	ErrUnknownProvider = provider.ErrUnknownProvider
)

// LoadConfig loads configuration from file and environment.
func LoadConfig() (*Config, error) { return config.Load() }

// DefaultConfig returns the built-in defaults, for programmatic overrides.
func DefaultConfig() *Config { return config.Default() }

type options struct {
	logger     *slog.Logger
	embedder   provider.Embedder
	completers []provider.Completer
	limiter    *rate.Limiter
	storage    knowledge.Storage
	backend    contextstore.Backend
	err        error
}

// Option customizes engine construction.
type Option func(*options)

// WithLogger sets the logger for every component. Defaults to a text
// handler on stderr at the configured level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder sets the embedding provider. Required unless
// WithGenkitEmbedder is used.
func WithEmbedder(e Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCompleter registers a completion provider at construction time.
// More can be added later with RegisterProvider.
func WithCompleter(c Completer) Option {
	return func(o *options) { o.completers = append(o.completers, c) }
}

// WithRateLimiter throttles all outbound provider calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithKnowledgeStorage overrides the configured knowledge backend.
func WithKnowledgeStorage(s KnowledgeStorage) Option {
	return func(o *options) { o.storage = s }
}

// WithContextBackend overrides the configured context backend.
func WithContextBackend(b ContextBackend) Option {
	return func(o *options) { o.backend = b }
}

// Engine is the facade over all components. Safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *provider.Registry
	retryer  *provider.Retryer
	embeds   *embedcache.Cache
	prompts  *promptcache.Cache
	repo     *knowledge.Repository
	searcher *search.Engine
	contexts *contextstore.Store

	pool        *pgxpool.Pool // owned when non-nil
	redisClient *redis.Client // owned when non-nil
}

// New constructs a fully wired Engine. cfg may be nil (defaults apply);
// an embedder must be supplied via WithEmbedder or WithGenkitEmbedder.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.embedder == nil {
		return nil, fmt.Errorf("an embedder is required (use WithEmbedder or WithGenkitEmbedder)")
	}

	logger := o.logger
	if logger == nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			level = slog.LevelInfo
		}
		logger = log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	}

	e := &Engine{cfg: cfg, logger: logger, registry: provider.NewRegistry()}
	e.retryer = provider.NewRetryer(provider.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.RetryCallTimeout,
	}, o.limiter, logger)

	var err error
	e.embeds, err = embedcache.New(o.embedder, e.retryer, logger, cfg.EmbedCacheSize)
	if err != nil {
		return nil, err
	}

	e.prompts = promptcache.New(promptcache.Config{
		MaxSize:             cfg.PromptCacheSize,
		TTL:                 cfg.PromptCacheTTL,
		SimilarityThreshold: cfg.SimilarityThreshold,
		SemanticMatching:    cfg.SemanticMatching,
		CostPerKiloToken:    cfg.CostPerKiloToken,
	}, e.embeds, logger)

	storage, vindex, err := e.knowledgeStorage(ctx, o)
	if err != nil {
		return nil, err
	}
	e.repo, err = knowledge.NewRepository(storage, e.embeds, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.searcher, err = search.NewEngine(storage, e.embeds, vindex, search.Config{
		MinVectorScore: cfg.MinVectorScore,
		ResultTTL:      cfg.SearchResultTTL,
	}, logger)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.repo.Subscribe(e.searcher)
	if err := e.searcher.Warm(ctx); err != nil {
		e.Close()
		return nil, err
	}

	backend, err := e.contextBackend(o)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.contexts, err = contextstore.New(backend, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	for _, c := range o.completers {
		if err := e.registry.Register(c); err != nil {
			e.Close()
			return nil, err
		}
	}

	logger.Debug("engine ready",
		"embedder", o.embedder.Model(),
		"knowledge_backend", cfg.KnowledgeBackend,
		"context_backend", cfg.ContextBackend)
	return e, nil
}

// NewGenkitEmbedder adapts a Genkit ai.Embedder to the Embedder contract
// using the configured model name and dimension.
func NewGenkitEmbedder(embedder ai.Embedder, model string, dim int) (Embedder, error) {
	return provider.NewGenkitEmbedder(embedder, model, dim)
}

// WithGenkitEmbedder is shorthand for WithEmbedder over a Genkit adapter.
// A nil embedder or blank model surfaces as an error from New.
func WithGenkitEmbedder(embedder ai.Embedder, model string, dim int) Option {
	return func(o *options) {
		adapted, err := provider.NewGenkitEmbedder(embedder, model, dim)
		if err != nil {
			o.err = fmt.Errorf("genkit embedder: %w", err)
			return
		}
		o.embedder = adapted
	}
}

func (e *Engine) knowledgeStorage(ctx context.Context, o options) (knowledge.Storage, search.VectorIndex, error) {
	if o.storage != nil {
		vindex, _ := o.storage.(search.VectorIndex)
		return o.storage, vindex, nil
	}

	switch e.cfg.KnowledgeBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, e.cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		e.pool = pool
		store, err := knowledge.NewPGStore(pool, e.logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return knowledge.NewMemStore(), nil, nil
	}
}

func (e *Engine) contextBackend(o options) (contextstore.Backend, error) {
	if o.backend != nil {
		return o.backend, nil
	}

	switch e.cfg.ContextBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     e.cfg.RedisAddr,
			Password: e.cfg.RedisPassword,
			DB:       e.cfg.RedisDB,
		})
		e.redisClient = client
		return contextstore.NewRedisBackend(client)
	default:
		return contextstore.NewMemBackend(), nil
	}
}

// RegisterProvider adds a completion provider. Duplicate names error.
func (e *Engine) RegisterProvider(c Completer) error { return e.registry.Register(c) }

// Providers returns the registered provider names, sorted.
func (e *Engine) Providers() []string { return e.registry.Names() }

// Embed returns the embedding for text, served from cache when possible.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embeds.Generate(ctx, text)
}

// Store saves content as a knowledge entry and returns its id. The title
// is derived from the first line of content; use CreateEntry for full
// control.
func (e *Engine) Store(ctx context.Context, content string, contentType ContentType, tags []string) (string, error) {
	entry, err := e.repo.Create(ctx, knowledge.CreateInput{
		Title:       firstLine(content),
		Content:     content,
		ContentType: contentType,
		Tags:        tags,
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// CreateEntry saves a fully specified knowledge entry.
func (e *Engine) CreateEntry(ctx context.Context, in CreateInput) (*Entry, error) {
	return e.repo.Create(ctx, in)
}

// GetEntry returns an entry by id and records the access.
func (e *Engine) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return e.repo.Get(ctx, id)
}

// UpdateEntry applies a partial patch to an entry.
func (e *Engine) UpdateEntry(ctx context.Context, id string, p Patch) (*Entry, error) {
	return e.repo.Update(ctx, id, p)
}

// DeleteEntry removes an entry, reporting whether it existed.
func (e *Engine) DeleteEntry(ctx context.Context, id string) (bool, error) {
	return e.repo.Delete(ctx, id)
}

// EntriesByCategory lists up to limit entries in category, newest first.
func (e *Engine) EntriesByCategory(ctx context.Context, category string, limit int) ([]*Entry, error) {
	return e.repo.ListByCategory(ctx, category, limit)
}

// EntriesByTag lists up to limit entries carrying tag, newest first.
func (e *Engine) EntriesByTag(ctx context.Context, tag string, limit int) ([]*Entry, error) {
	return e.repo.ListByTag(ctx, tag, limit)
}

// MostAccessedEntries lists up to limit entries by access count.
func (e *Engine) MostAccessedEntries(ctx context.Context, limit int) ([]*Entry, error) {
	return e.repo.MostAccessed(ctx, limit)
}

// ContentTypes returns the known knowledge content types.
func (e *Engine) ContentTypes() []ContentType { return e.repo.ListTypes() }

// Search runs a hybrid (vector + full-text) query over the knowledge
// corpus.
func (e *Engine) Search(ctx context.Context, q SearchQuery) (*SearchResponse, error) {
	return e.searcher.Search(ctx, q)
}

// Complete returns a completion for req through the named provider,
// served from the prompt cache when an exact or semantically similar
// request was answered before. Concurrent misses for the same request
// are coalesced into one provider call.
func (e *Engine) Complete(ctx context.Context, providerName string, req *Request, opts CacheOptions) (*Completion, bool, error) {
	completer, err := e.registry.Get(providerName)
	if err != nil {
		return nil, false, err
	}

	content := canonicalRequest(req)
	cached := true
	entry, err := e.prompts.Fetch(ctx, content, providerName, req.Model, opts,
		func(ctx context.Context) (any, error) {
			cached = false
			var out *provider.Completion
			callErr := e.retryer.Do(ctx, "complete", func(ctx context.Context) error {
				resp, err := completer.Complete(ctx, req)
				if err != nil {
					return err
				}
				out = resp
				return nil
			})
			if callErr != nil {
				return nil, callErr
			}
			return out, nil
		})
	if err != nil {
		return nil, false, err
	}

	completion, ok := entry.Payload.(*provider.Completion)
	if !ok {
		return nil, false, fmt.Errorf("cache entry %q holds unexpected payload", entry.ID)
	}
	return completion, cached, nil
}

// WarmCache asks the named provider to pre-warm upstream caches for the
// given prompts. Best-effort.
func (e *Engine) WarmCache(ctx context.Context, providerName string, prompts []string) error {
	completer, err := e.registry.Get(providerName)
	if err != nil {
		return err
	}
	return completer.WarmCache(ctx, prompts)
}

// CacheMetrics returns the prompt cache counters.
func (e *Engine) CacheMetrics() CacheMetrics { return e.prompts.Snapshot() }

// EmbedCacheStats returns the embedding cache counters.
func (e *Engine) EmbedCacheStats() EmbedStats { return e.embeds.Stats() }

// GetContext returns the latest version of a context type. Unwritten
// types yield version 0 with an empty map.
func (e *Engine) GetContext(ctx context.Context, typ string) (*ContextDocument, error) {
	return e.contexts.GetLatest(ctx, typ)
}

// UpdateContext writes a new version of a context type, either replacing
// the document (Full) or overlaying the latest version (Patch).
func (e *Engine) UpdateContext(ctx context.Context, typ string, update ContextUpdate) (*ContextDocument, error) {
	return e.contexts.Update(ctx, typ, update)
}

// ContextHistory returns versions of a context type, ascending.
func (e *Engine) ContextHistory(ctx context.Context, typ string, q ContextHistoryQuery) ([]*ContextDocument, error) {
	return e.contexts.GetHistory(ctx, typ, q)
}

// ContextTypes lists every context type with at least one version.
func (e *Engine) ContextTypes(ctx context.Context) ([]string, error) {
	return e.contexts.Types(ctx)
}

// Close releases owned resources (search index, connection pools).
func (e *Engine) Close() error {
	var firstErr error
	if e.searcher != nil {
		if err := e.searcher.Close(); err != nil {
			firstErr = err
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// canonicalRequest flattens a completion request into the cache key
// text. Messages participate in order; sampling parameters do not, so
// requests differing only in temperature share a cache entry.
func canonicalRequest(req *Request) string {
	var b strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func firstLine(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	const maxTitle = 120
	if len(line) > maxTitle {
		line = line[:maxTitle]
	}
	return line
}
