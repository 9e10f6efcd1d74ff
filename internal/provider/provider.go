// Package provider defines the contracts for the external embedding and
// completion services the engine depends on, the transient/permanent failure
// taxonomy, and the retry executor shared by every outbound call.
//
// Providers are modeled as polymorphic implementations of small interfaces
// selected via a Registry at startup; the engine never dispatches on
// provider-name strings.
package provider

import "context"

// Embedder generates fixed-dimension vector embeddings.
//
// Implementations classify failures with Transient / Permanent from this
// package so the Retryer can decide whether to retry.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model identifies the embedding model. Caches are partitioned by it:
	// vectors produced by different models are never compared.
	Model() string

	// Dimension is the vector dimension the model produces, or 0 if unknown.
	Dimension() int
}

// Message is a single chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request passed to a Completer.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is a provider response.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Completer executes completion requests against one provider.
type Completer interface {
	// Name identifies the provider (e.g. "openai", "gemini").
	Name() string

	// Complete executes the request. Failures carry the package taxonomy.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// WarmCache gives the provider a chance to pre-warm upstream caches
	// for the given prompts. Best-effort.
	WarmCache(ctx context.Context, prompts []string) error
}
