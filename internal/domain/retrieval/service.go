// Package retrieval implements the Retriever: embeds a query and performs
// a tenant-scoped ANN search over the Catalog's VectorIndex.
package retrieval

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
)

// Defaults for top_k, per spec §4.7/§6.
const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// Embedder embeds a single query string into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is one ranked chunk with full provenance.
type Result struct {
	ChunkID     int64
	DocumentID  int64
	Filename    string
	ChunkIndex  int
	TextContent string
	Similarity  float64
}

// Service implements the Retriever component.
type Service struct {
	catalog  catalog.Catalog
	embedder Embedder
	logger   *slog.Logger
}

// NewService constructs a retrieval Service.
func NewService(cat catalog.Catalog, embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: cat, embedder: embedder, logger: logger.With("component", "retrieval.service")}
}

// Search returns up to topK chunks ranked by cosine similarity, scoped to
// userID and optionally restricted to documentID. If documentID is
// supplied but owned by a different user (or does not exist), it returns
// catalog.ErrNotFound rather than a permission error, per spec §4.7.
func (s *Service) Search(ctx context.Context, userID int64, query string, topK int, documentID *int64) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	if documentID != nil {
		if _, err := s.catalog.GetDocumentForUser(ctx, *documentID, userID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, apperrors.Wrap(apperrors.CodeNotFound, "document not found", err)
			}
			return nil, err
		}
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransientUpstream, "failed to embed query", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, apperrors.Wrap(apperrors.CodeInternalInvariantViolation, "embedder returned no vector for query", nil)
	}

	scored, err := s.catalog.AnnSearch(ctx, userID, vectors[0], topK, documentID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(scored))
	for i, sc := range scored {
		results[i] = Result{
			ChunkID:     sc.Chunk.ID,
			DocumentID:  sc.Chunk.DocumentID,
			Filename:    sc.Filename,
			ChunkIndex:  sc.Chunk.ChunkIndex,
			TextContent: sc.Chunk.TextContent,
			Similarity:  sc.Similarity,
		}
	}
	return results, nil
}
