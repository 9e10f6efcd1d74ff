// Package testutil provides shared testing utilities: a deterministic
// embedder, a scripted completion provider, and a PostgreSQL container
// harness.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// WordDim is the vector dimension WordEmbedder produces.
const WordDim = 64

// WordEmbedder is a deterministic bag-of-words embedder for tests. Each
// token hashes into one of WordDim buckets and the resulting vector is
// L2-normalized, so texts sharing most of their tokens come out with
// high cosine similarity while unrelated texts stay near zero. No
// network, no randomness.
type WordEmbedder struct {
	// Fail, when set, makes Embed return this error.
	Fail error

	calls atomic.Int64
}

// Embed implements provider.Embedder.
func (w *WordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	w.calls.Add(1)
	if w.Fail != nil {
		return nil, w.Fail
	}

	vec := make([]float32, WordDim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%WordDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec, nil
}

// Model implements provider.Embedder.
func (*WordEmbedder) Model() string { return "word-hash-64" }

// Dimension implements provider.Embedder.
func (*WordEmbedder) Dimension() int { return WordDim }

// Calls returns how many times Embed was invoked.
func (w *WordEmbedder) Calls() int64 { return w.calls.Load() }

// tokenize lowercases and splits on non-letter, non-digit runes. Tokens
// are deduplicated so repeated words do not dominate the vector.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
