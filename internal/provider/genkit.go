package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// GenkitEmbedder adapts a Genkit ai.Embedder to this package's Embedder
// contract. Genkit reports failures untyped, so everything except an empty
// response is classified transient; empty responses are permanent (the
// model cannot embed this input and retrying will not help).
type GenkitEmbedder struct {
	embedder ai.Embedder
	model    string
	dim      int
}

// NewGenkitEmbedder wraps embedder. model names the embedding model for
// cache partitioning; dim is the expected vector dimension (0 = unchecked).
func NewGenkitEmbedder(embedder ai.Embedder, model string, dim int) (*GenkitEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &GenkitEmbedder{embedder: embedder, model: model, dim: dim}, nil
}

// Embed implements Embedder.
func (g *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, Transient(g.model, "embed", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, Permanent(g.model, "embed", errors.New("empty embedding response"))
	}

	vec := resp.Embeddings[0].Embedding
	if g.dim > 0 && len(vec) != g.dim {
		return nil, Permanent(g.model, "embed",
			fmt.Errorf("embedding dimension %d, expected %d", len(vec), g.dim))
	}
	return vec, nil
}

// Model implements Embedder.
func (g *GenkitEmbedder) Model() string { return g.model }

// Dimension implements Embedder.
func (g *GenkitEmbedder) Dimension() int { return g.dim }
