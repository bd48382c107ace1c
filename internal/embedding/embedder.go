// Package embedding provides text embedding generation with multiple
// backend support.
package embedding

import (
	"context"
	"fmt"

	"github.com/angelmaroco/spark-tunning-ml/internal/config"
)

// Embedder defines the interface for text embedding providers. The
// pipeline treats embedding as a black box: text in, fixed-dimension
// vector out.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. More
	// efficient than repeated Embed calls for bulk loads.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension. Must match the
	// collection schema's declared vector dimension.
	Dimension() int
}

// Provider names accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// New creates an Embedder from configuration.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return newLangchainEmbedder(cfg)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return newLangchainEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
