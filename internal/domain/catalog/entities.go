// Package catalog defines the authoritative persistent entities and the
// Catalog interface the rest of the system relies on.
package catalog

import "time"

// DocumentStatus tracks a document's position in the ingestion state machine.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// EmbeddingDim is the fixed dimensionality of every stored Chunk embedding.
const EmbeddingDim = 1536

// User is identified by a stable integer id and holds an opaque api_key.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	APIKey    string    `json:"apiKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is owned by exactly one User and moves monotonically through
// Pending -> Processing -> {Completed | Failed}.
type Document struct {
	ID                    int64          `json:"id"`
	UserID                int64          `json:"userId"`
	Filename              string         `json:"filename"`
	BlobHandle            string         `json:"blobHandle"`
	Status                DocumentStatus `json:"status"`
	ResultText            string         `json:"resultText,omitempty"`
	Summary               string         `json:"summary,omitempty"`
	PageCount             int            `json:"pageCount,omitempty"`
	ExtractionTimeSeconds float64        `json:"extractionTimeSeconds,omitempty"`
	ErrorMessage          string         `json:"errorMessage,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
}

// Chunk is owned by exactly one Document and inherits its user_id. Chunks
// are created only by the IngestionPipeline and are never mutated in place.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"documentId"`
	UserID     int64     `json:"userId"`
	ChunkIndex int       `json:"chunkIndex"`
	TextContent string   `json:"textContent"`
	Embedding  []float32 `json:"embedding"`
	TokenCount int       `json:"tokenCount,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ScoredChunk is a Chunk returned from an ANN search, annotated with its
// similarity score and the owning document's filename for provenance.
type ScoredChunk struct {
	Chunk      Chunk
	Filename   string
	Similarity float64
}

// DocumentFilter narrows ListDocuments results.
type DocumentFilter struct {
	Status *DocumentStatus
	Offset int
	Limit  int
}

// PendingDocument is the shape returned by the reconciliation scan.
type PendingDocument struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}
