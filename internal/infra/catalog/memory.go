// Package catalog provides the Catalog implementations: an in-memory fake
// for tests and local dev, and a Postgres/pgvector store for production.
package catalog

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/util"
)

// MemoryCatalog is an in-memory Catalog used by tests and local dev.
type MemoryCatalog struct {
	mu        sync.Mutex
	users     map[int64]catalog.User
	documents map[int64]catalog.Document
	chunks    map[int64][]catalog.Chunk // keyed by document id
	nextUser  int64
	nextDoc   int64
	nextChunk int64
}

// NewMemoryCatalog constructs an empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		users:     make(map[int64]catalog.User),
		documents: make(map[int64]catalog.Document),
		chunks:    make(map[int64][]catalog.Chunk),
	}
}

func (m *MemoryCatalog) CreateUser(_ context.Context, email, apiKey string) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email || u.APIKey == apiKey {
			return catalog.User{}, catalog.ErrNotFound
		}
	}
	m.nextUser++
	u := catalog.User{ID: m.nextUser, Email: email, APIKey: apiKey, CreatedAt: util.NowUTC()}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryCatalog) GetUser(_ context.Context, id int64) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return catalog.User{}, catalog.ErrNotFound
	}
	return u, nil
}

func (m *MemoryCatalog) FindUserByAPIKey(_ context.Context, apiKey string) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.APIKey == apiKey {
			return u, nil
		}
	}
	return catalog.User{}, catalog.ErrNotFound
}

func (m *MemoryCatalog) CreateDocument(_ context.Context, userID int64, filename, blobHandle string) (catalog.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	doc := catalog.Document{
		ID:         m.nextDoc,
		UserID:     userID,
		Filename:   filename,
		BlobHandle: blobHandle,
		Status:     catalog.DocumentStatusPending,
		CreatedAt:  util.NowUTC(),
	}
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *MemoryCatalog) MarkProcessing(_ context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return catalog.ErrNotFound
	}
	if doc.Status != catalog.DocumentStatusPending && doc.Status != catalog.DocumentStatusFailed {
		return nil
	}
	now := util.NowUTC()
	doc.Status = catalog.DocumentStatusProcessing
	doc.StartedAt = &now
	m.documents[documentID] = doc
	return nil
}

func (m *MemoryCatalog) CompleteIngestion(_ context.Context, documentID int64, resultText string, pageCount int, extractionTimeSeconds float64, chunks []catalog.NewChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return catalog.ErrNotFound
	}
	// Delete-then-insert within this single critical section, mirroring
	// the single-transaction semantics the Postgres store provides.
	newChunks := make([]catalog.Chunk, len(chunks))
	for i, c := range chunks {
		m.nextChunk++
		newChunks[i] = catalog.Chunk{
			ID:          m.nextChunk,
			DocumentID:  documentID,
			UserID:      doc.UserID,
			ChunkIndex:  c.ChunkIndex,
			TextContent: c.TextContent,
			Embedding:   c.Embedding,
			TokenCount:  c.TokenCount,
			CreatedAt:   util.NowUTC(),
		}
	}
	m.chunks[documentID] = newChunks

	now := util.NowUTC()
	doc.Status = catalog.DocumentStatusCompleted
	doc.ResultText = resultText
	doc.PageCount = pageCount
	doc.ExtractionTimeSeconds = extractionTimeSeconds
	doc.CompletedAt = &now
	m.documents[documentID] = doc
	return nil
}

func (m *MemoryCatalog) MarkFailed(_ context.Context, documentID int64, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return catalog.ErrNotFound
	}
	now := util.NowUTC()
	doc.Status = catalog.DocumentStatusFailed
	doc.ErrorMessage = errorMessage
	doc.CompletedAt = &now
	m.documents[documentID] = doc
	return nil
}

func (m *MemoryCatalog) GetDocument(_ context.Context, documentID int64) (catalog.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return catalog.Document{}, catalog.ErrNotFound
	}
	return doc, nil
}

func (m *MemoryCatalog) GetDocumentForUser(_ context.Context, documentID, userID int64) (catalog.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok || doc.UserID != userID {
		return catalog.Document{}, catalog.ErrNotFound
	}
	return doc, nil
}

func (m *MemoryCatalog) ListDocuments(_ context.Context, userID int64, filter catalog.DocumentFilter) ([]catalog.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Document
	for _, doc := range m.documents {
		if doc.UserID != userID {
			continue
		}
		if filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (m *MemoryCatalog) DeleteDocument(_ context.Context, documentID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok || doc.UserID != userID {
		return catalog.ErrNotFound
	}
	delete(m.documents, documentID)
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryCatalog) AnnSearch(_ context.Context, userID int64, queryVector []float32, topK int, documentID *int64) ([]catalog.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []catalog.ScoredChunk
	for docID, chunkList := range m.chunks {
		doc, ok := m.documents[docID]
		if !ok || doc.UserID != userID {
			continue
		}
		if documentID != nil && docID != *documentID {
			continue
		}
		for _, c := range chunkList {
			sim := cosineSimilarity(queryVector, c.Embedding)
			candidates = append(candidates, catalog.ScoredChunk{Chunk: c, Filename: doc.Filename, Similarity: sim})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		// P10: equal similarity breaks ties by ascending chunk id.
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (m *MemoryCatalog) ListStalePending(_ context.Context, olderThan time.Time) ([]catalog.PendingDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.PendingDocument
	for _, doc := range m.documents {
		if doc.Status == catalog.DocumentStatusPending && doc.CreatedAt.Before(olderThan) {
			out = append(out, catalog.PendingDocument{ID: doc.ID, UserID: doc.UserID, CreatedAt: doc.CreatedAt})
		}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	sim := cos
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}

func paginate(docs []catalog.Document, offset, limit int) []catalog.Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end]
}

var _ catalog.Catalog = (*MemoryCatalog)(nil)
