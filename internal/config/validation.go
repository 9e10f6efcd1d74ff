package config

import (
	"errors"
	"fmt"
)

// Validation sentinel errors, checked with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidEmbedderModel indicates the embedder model is blank.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates a non-positive vector dimension.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidCacheSize indicates a non-positive cache size.
	ErrInvalidCacheSize = errors.New("invalid cache size")

	// ErrInvalidBackend indicates an unknown storage backend name.
	ErrInvalidBackend = errors.New("invalid storage backend")

	// ErrMissingPostgresURL indicates the postgres backend has no URL.
	ErrMissingPostgresURL = errors.New("missing postgres URL")

	// ErrMissingRedisAddr indicates the redis backend has no address.
	ErrMissingRedisAddr = errors.New("missing redis address")

	// ErrInvalidRetry indicates an out-of-range retry setting.
	ErrInvalidRetry = errors.New("invalid retry setting")
)

// Validate checks the configuration and fails fast on the first problem.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.EmbedderModel == "" {
		return ErrInvalidEmbedderModel
	}
	if c.EmbedderDimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.EmbedCacheSize <= 0 {
		return fmt.Errorf("%w: embed_cache_size %d", ErrInvalidCacheSize, c.EmbedCacheSize)
	}
	if c.PromptCacheSize <= 0 {
		return fmt.Errorf("%w: prompt_cache_size %d", ErrInvalidCacheSize, c.PromptCacheSize)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v (must be in [0, 1])", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.MinVectorScore < 0 || c.MinVectorScore > 1 {
		return fmt.Errorf("%w: min_vector_score %v", ErrInvalidThreshold, c.MinVectorScore)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrInvalidRetry, c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("%w: base delay %v", ErrInvalidRetry, c.RetryBaseDelay)
	}
	if c.RetryCallTimeout <= 0 {
		return fmt.Errorf("%w: call timeout %v", ErrInvalidRetry, c.RetryCallTimeout)
	}

	switch c.KnowledgeBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresURL == "" {
			return ErrMissingPostgresURL
		}
	default:
		return fmt.Errorf("%w: knowledge backend %q", ErrInvalidBackend, c.KnowledgeBackend)
	}

	switch c.ContextBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
	default:
		return fmt.Errorf("%w: context backend %q", ErrInvalidBackend, c.ContextBackend)
	}

	return nil
}
