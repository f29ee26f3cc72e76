// Package embedding adapts tmc/langchaingo's embeddings.Embedder to the
// single EmbedQuery method the vector tool needs, the same adapter shape as
// the teacher's rag.LangChainEmbedder in rag/adapters.go.
package embedding

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
)

// Embedder embeds a single query string into a dense vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LangChainEmbedder wraps a langchaingo embeddings.Embedder.
type LangChainEmbedder struct {
	inner embeddings.Embedder
}

// New wraps inner.
func New(inner embeddings.Embedder) *LangChainEmbedder {
	return &LangChainEmbedder{inner: inner}
}

// EmbedQuery embeds text, matching spec §4.4 step 1 ("embed query to a
// dense vector"). langchaingo embedders return float64; this narrows to
// float32 to match the Qdrant wire format, the same conversion the
// teacher's LangChainEmbedder does in rag/adapters.go.
func (e *LangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out, nil
}
