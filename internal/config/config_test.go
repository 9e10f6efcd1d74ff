package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}
	if cfg.KnowledgeBackend != BackendMemory {
		t.Errorf("default knowledge backend = %q, want memory", cfg.KnowledgeBackend)
	}
	if cfg.SimilarityThreshold != 0.85 {
		t.Errorf("default similarity threshold = %v, want 0.85", cfg.SimilarityThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "blank embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "zero dimension",
			mutate:  func(c *Config) { c.EmbedderDimension = 0 },
			wantErr: ErrInvalidEmbedderDimension,
		},
		{
			name:    "negative embed cache size",
			mutate:  func(c *Config) { c.EmbedCacheSize = -1 },
			wantErr: ErrInvalidCacheSize,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.SimilarityThreshold = 1.5 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.RetryMaxAttempts = 0 },
			wantErr: ErrInvalidRetry,
		},
		{
			name:    "unknown knowledge backend",
			mutate:  func(c *Config) { c.KnowledgeBackend = "sqlite" },
			wantErr: ErrInvalidBackend,
		},
		{
			name:    "postgres without URL",
			mutate:  func(c *Config) { c.KnowledgeBackend = BackendPostgres },
			wantErr: ErrMissingPostgresURL,
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.ContextBackend = BackendRedis
				c.RedisAddr = ""
			},
			wantErr: ErrMissingRedisAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() error = %v, want ErrConfigNil", err)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.PostgresURL = "postgres://user:hunter2@db:5432/recall"
	cfg.RedisPassword = "hunter2"

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Error("secret leaked into JSON output")
	}
	if !strings.Contains(string(raw), maskedValue) {
		t.Error("expected mask placeholder in JSON output")
	}
}
