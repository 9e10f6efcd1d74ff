package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is a cached provider response. The Embedding field is optional:
// entries without one are still served by exact-match lookup but never
// participate in similarity matching.
type Entry struct {
	ID            string
	Content       string
	Embedding     []float32
	Provider      string
	Model         string
	Payload       any
	CreatedAt     time.Time
	LastHitAt     time.Time
	HitCount      int64
	TokenEstimate int
	CacheHint     bool
	ExpiresAt     time.Time
}

// expired reports whether the entry is past its TTL at time now.
// A zero ExpiresAt means no expiry.
func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// EntryID returns the deterministic id for (provider, model, content).
func EntryID(providerName, model, content string) string {
	h := sha256.New()
	h.Write([]byte(providerName))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens approximates the token count of text. The 4-chars-per-
// token heuristic matches what the cost-savings metric assumes.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Metrics is a snapshot of cache performance counters. All fields are
// maintained incrementally; producing a snapshot never scans the cache.
type Metrics struct {
	TotalRequests        int64
	Hits                 int64
	Misses               int64
	Evictions            int64
	Expirations          int64
	HitRate              float64
	MissRate             float64
	AverageResponseTime  time.Duration
	EstimatedCostSavings float64
	CacheSize            int
}

// scopeKey identifies the (provider, model) partition of the similarity
// index. Entries are only ever similarity-matched within one scope.
func scopeKey(providerName, model string) string {
	return providerName + "\x00" + model
}
