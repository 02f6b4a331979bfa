// Package embedder provides Embedder implementations: a deterministic
// hash-based fake for tests and local dev, and an OpenAI-backed embedder
// for production.
package embedder

import (
	"context"
	"hash/fnv"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

// DeterministicEmbedder avoids network calls by hashing text into a vector
// of catalog.EmbeddingDim dimensions. Vectors are not unit-normalized; the
// ingestion pipeline normalizes defensively regardless of source.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder constructs the embedder. dim defaults to
// catalog.EmbeddingDim when <= 0.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = catalog.EmbeddingDim
	}
	return &DeterministicEmbedder{dim: dim}
}

func (e *DeterministicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		hash := fnv.New64a()
		_, _ = hash.Write([]byte(text))
		seed := hash.Sum64()
		for j := 0; j < e.dim; j++ {
			seed = seed*1099511628211 + 1469598103934665603
			vector[j] = float32(seed%997) / 997.0
		}
		vectors[i] = vector
	}
	return vectors, nil
}
