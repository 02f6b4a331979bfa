// Package ingest implements Admission and the IngestionPipeline: the
// durable, at-least-once job processor driving a Document through
// fetch -> parse -> chunk -> embed -> persist.
package ingest

import (
	"context"
	"io"
	"time"
)

// TaskRecordTTL and ResultCacheTTL are the TTLs from spec §4.6 that
// Admission and Pipeline always apply; the cache.progressTaskTtl and
// cache.resultCacheTtl configuration fields are not read by this package.
const (
	TaskRecordTTL  = 24 * time.Hour
	ResultCacheTTL = time.Hour
)

// BlobStore stores raw PDF bytes keyed by an opaque handle.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ParseResult is the structured text representation a Parser produces.
type ParseResult struct {
	Text      string
	PageCount int
}

// Parser converts PDF bytes to markdown text with tables inline. External
// collaborator, specified only at the interface.
type Parser interface {
	Parse(ctx context.Context, filename string, pdf io.Reader) (ParseResult, error)
}

// Embedder maps text to fixed-dimension unit vectors, with batching.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Message is one WorkQueue envelope: {task_id, blob_handle, filename, user_id}.
type Message struct {
	TaskID     string
	BlobHandle string
	Filename   string
	UserID     int64
}

// Delivery wraps a dequeued Message with the handle needed to Ack or
// Release it. DeliveryID is an opaque identifier, distinct from any
// domain entity id.
type Delivery struct {
	DeliveryID string
	Message    Message
}

// WorkQueue provides at-least-once delivery with visibility-timeout
// semantics: a claimed message becomes invisible to other consumers until
// Ack, Release, or the visibility timeout elapses.
type WorkQueue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Receive long-polls for up to one message, blocking up to waitFor.
	// Returns ok=false on timeout with no message available.
	Receive(ctx context.Context, waitFor time.Duration) (Delivery, bool, error)
	Ack(ctx context.Context, deliveryID string) error
	Release(ctx context.Context, deliveryID string) error
}

// TaskRecord is the advisory, TTL'd progress snapshot kept in ProgressCache.
type TaskRecord struct {
	TaskID      string
	Status      string
	Progress    int
	Filename    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// CachedResult is the short-TTL extraction snapshot keyed by "result:<id>".
type CachedResult struct {
	Filename              string
	PageCount             int
	ResultText            string
	ExtractionTimeSeconds float64
}

// ProgressCache is a low-latency key/value store for task state and
// short-TTL cached results. All writes are best-effort: a write failure
// must never fail the ingestion stage that produced it.
type ProgressCache interface {
	WriteTask(ctx context.Context, rec TaskRecord, ttl time.Duration) error
	ReadTask(ctx context.Context, taskID string) (TaskRecord, bool, error)
	WriteResult(ctx context.Context, taskID string, result CachedResult, ttl time.Duration) error
	ReadResult(ctx context.Context, taskID string) (CachedResult, bool, error)
	DeleteTask(ctx context.Context, taskID string) error
	ListTaskIDs(ctx context.Context, offset, limit int) ([]string, error)
}
