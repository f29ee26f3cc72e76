// Package singletons lazily constructs the process-wide clients spec.md §9
// names under "Lazy initialization and singletons": model clients, store
// connections, the embedder handle. Each accessor is guarded by sync.Once
// and is concurrency-safe; fields are overridable before first use so tests
// can inject fakes instead of touching real network services.
package singletons

import (
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smallnest/storyoracle/config"
	"github.com/smallnest/storyoracle/internal/embedding"
	"github.com/smallnest/storyoracle/internal/kgstore"
	"github.com/smallnest/storyoracle/internal/vectorstore"
	"github.com/smallnest/storyoracle/log"
)

// Registry holds the process-wide singletons. Assign a field before first
// access to override its construction (used by tests and by alternate
// deployments that want a different provider).
type Registry struct {
	Cfg    config.Config
	Logger log.Logger

	ReasoningLLMOverride llms.Model
	FastLLMOverride      llms.Model
	EmbedderOverride     embedding.Embedder
	VectorStoreOverride  *vectorstore.Client
	GraphStoreOverride   *kgstore.Client

	reasoningOnce sync.Once
	fastOnce      sync.Once
	embedderOnce  sync.Once
	vectorOnce    sync.Once
	graphOnce     sync.Once

	reasoningLLM llms.Model
	fastLLM      llms.Model
	embedder     embedding.Embedder
	vectorStore  *vectorstore.Client
	graphStore   *kgstore.Client

	reasoningErr error
	fastErr      error
	embedderErr  error
	vectorErr    error
	graphErr     error
}

// New constructs a Registry bound to cfg. logger defaults to a standard
// DefaultLogger when nil.
func New(cfg config.Config, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewDefaultLogger(log.LogLevelInfo)
	}
	return &Registry{Cfg: cfg, Logger: logger}
}

// ReasoningLLM returns the process-wide reasoning model client.
func (r *Registry) ReasoningLLM() (llms.Model, error) {
	r.reasoningOnce.Do(func() {
		if r.ReasoningLLMOverride != nil {
			r.reasoningLLM = r.ReasoningLLMOverride
			return
		}
		r.reasoningLLM, r.reasoningErr = openai.New(openai.WithModel(r.Cfg.ReasoningModel))
	})
	return r.reasoningLLM, r.reasoningErr
}

// FastLLM returns the process-wide fast model client (grader/refiner/
// humanizer/unknown-conclusion, spec.md §6).
func (r *Registry) FastLLM() (llms.Model, error) {
	r.fastOnce.Do(func() {
		if r.FastLLMOverride != nil {
			r.fastLLM = r.FastLLMOverride
			return
		}
		r.fastLLM, r.fastErr = openai.New(openai.WithModel(r.Cfg.FastModel))
	})
	return r.fastLLM, r.fastErr
}

// Embedder returns the process-wide query embedder.
func (r *Registry) Embedder() (embedding.Embedder, error) {
	r.embedderOnce.Do(func() {
		if r.EmbedderOverride != nil {
			r.embedder = r.EmbedderOverride
			return
		}
		llm, err := openai.New(openai.WithModel(r.Cfg.EmbeddingModel))
		if err != nil {
			r.embedderErr = err
			return
		}
		inner, err := embeddings.NewEmbedder(llm)
		if err != nil {
			r.embedderErr = err
			return
		}
		r.embedder = embedding.New(inner)
	})
	return r.embedder, r.embedderErr
}

// VectorStore returns the process-wide Qdrant client.
func (r *Registry) VectorStore() (*vectorstore.Client, error) {
	r.vectorOnce.Do(func() {
		if r.VectorStoreOverride != nil {
			r.vectorStore = r.VectorStoreOverride
			return
		}
		r.vectorStore, r.vectorErr = vectorstore.New(vectorstore.Config{
			Host:       r.Cfg.VectorHost,
			Port:       r.Cfg.VectorPort,
			APIKey:     r.Cfg.VectorAPIKey,
			UseTLS:     r.Cfg.VectorUseTLS,
			Collection: r.Cfg.VectorCollection,
		})
	})
	return r.vectorStore, r.vectorErr
}

// GraphStore returns the process-wide FalkorDB client.
func (r *Registry) GraphStore() (*kgstore.Client, error) {
	r.graphOnce.Do(func() {
		if r.GraphStoreOverride != nil {
			r.graphStore = r.GraphStoreOverride
			return
		}
		r.graphStore, r.graphErr = kgstore.New(r.Cfg.GraphURI)
	})
	return r.graphStore, r.graphErr
}
