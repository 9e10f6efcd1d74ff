// Package config provides configuration management with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.recall/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive fields (RedisPassword, PostgresURL) are masked in
// MarshalJSON; when adding a new secret field, update MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Storage backend identifiers used in Config.KnowledgeBackend and
// Config.ContextBackend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config stores the engine configuration.
type Config struct {
	// Embedding provider configuration.
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Embedding cache.
	EmbedCacheSize int `mapstructure:"embed_cache_size" json:"embed_cache_size"`

	// Prompt cache.
	PromptCacheSize     int           `mapstructure:"prompt_cache_size" json:"prompt_cache_size"`
	PromptCacheTTL      time.Duration `mapstructure:"prompt_cache_ttl" json:"prompt_cache_ttl"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	SemanticMatching    bool          `mapstructure:"semantic_matching" json:"semantic_matching"`
	CostPerKiloToken    float64       `mapstructure:"cost_per_kilo_token" json:"cost_per_kilo_token"`

	// Hybrid search.
	MinVectorScore  float64       `mapstructure:"min_vector_score" json:"min_vector_score"`
	SearchResultTTL time.Duration `mapstructure:"search_result_ttl" json:"search_result_ttl"`

	// Retry policy for outbound provider calls.
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" json:"retry_base_delay"`
	RetryCallTimeout time.Duration `mapstructure:"retry_call_timeout" json:"retry_call_timeout"`

	// Knowledge storage: "memory" or "postgres".
	KnowledgeBackend string `mapstructure:"knowledge_backend" json:"knowledge_backend"`
	PostgresURL      string `mapstructure:"postgres_url" json:"postgres_url"` // SENSITIVE: masked in MarshalJSON

	// Context storage: "memory" or "redis".
	ContextBackend string `mapstructure:"context_backend" json:"context_backend"`
	RedisAddr      string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	RedisDB        int    `mapstructure:"redis_db" json:"redis_db"`

	// Logging.
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".recall")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching the
// filesystem or environment. Useful for embedding the engine as a
// library with programmatic overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are hardcoded and always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("embedder_dimension", 768)

	v.SetDefault("embed_cache_size", 10000)

	v.SetDefault("prompt_cache_size", 1000)
	v.SetDefault("prompt_cache_ttl", time.Hour)
	v.SetDefault("similarity_threshold", 0.85)
	v.SetDefault("semantic_matching", true)
	v.SetDefault("cost_per_kilo_token", 0.002)

	v.SetDefault("min_vector_score", 0.0)
	v.SetDefault("search_result_ttl", 30*time.Second)

	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay", 200*time.Millisecond)
	v.SetDefault("retry_call_timeout", 3*time.Second)

	v.SetDefault("knowledge_backend", BackendMemory)
	v.SetDefault("context_backend", BackendMemory)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded
// keys cannot fail to bind; a panic here is a bug, not a runtime error.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedder_model", "RECALL_EMBEDDER_MODEL")
	mustBind("knowledge_backend", "RECALL_KNOWLEDGE_BACKEND")
	mustBind("postgres_url", "DATABASE_URL")
	mustBind("context_backend", "RECALL_CONTEXT_BACKEND")
	mustBind("redis_addr", "RECALL_REDIS_ADDR")
	mustBind("redis_password", "RECALL_REDIS_PASSWORD")
	mustBind("log_level", "RECALL_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	out := alias(c)
	if out.PostgresURL != "" {
		out.PostgresURL = maskedValue
	}
	if out.RedisPassword != "" {
		out.RedisPassword = maskedValue
	}
	return json.Marshal(out)
}
