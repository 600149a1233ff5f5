package memory

import (
	"context"
	"strings"
)

// NewEpisodicStore creates a postgres-backed store when configured,
// otherwise in-memory.
func NewEpisodicStore(ctx context.Context, databaseURL string) (EpisodicStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryEpisodicStore(), nil
	}
	return NewPostgresEpisodicStore(ctx, databaseURL)
}

// NewSemanticIndexFor pairs the semantic tier with the episodic choice:
// pgvector next to postgres, embedded chromem otherwise.
func NewSemanticIndexFor(ctx context.Context, databaseURL string, dim int) (SemanticIndex, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewChromemIndex(), nil
	}
	return NewPgvectorIndex(ctx, databaseURL, dim)
}

// NewEmbedder picks the hosted embedder when an API key is configured,
// otherwise the local hashing embedder.
func NewEmbedder(apiKey, model string, localDim int) Embedder {
	if strings.TrimSpace(apiKey) == "" {
		return NewLocalEmbedder(localDim)
	}
	return NewOpenAIEmbedder(apiKey, model)
}
