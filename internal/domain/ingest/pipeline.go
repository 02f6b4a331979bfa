package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest/chunkplan"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/util"
)

// Retry policy for transient upstream failures (Embedder, Parser, BlobStore),
// per spec §4.4: R=3 attempts, base 500ms, factor 2, jitter +/-25%.
const (
	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
	retryFactor   = 2.0
	retryJitter   = 0.25
)

// Per-stage wall clocks, per spec §5.
const (
	ParseTimeout      = 120 * time.Second
	EmbedBatchTimeout = 60 * time.Second
	PerMessageDeadline = 10 * time.Minute
)

// EmbedBatchSize is the recommended batch size B from spec §4.4.
const EmbedBatchSize = 100

// Pipeline drives one Document through the ingestion state machine per
// dequeued WorkQueue message. A Pipeline instance is shared by every worker
// goroutine and holds no per-message mutable state.
type Pipeline struct {
	catalog  catalog.Catalog
	blobs    BlobStore
	parser   Parser
	embedder Embedder
	cache    ProgressCache
	planner  *chunkplan.Planner
	logger   *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(cat catalog.Catalog, blobs BlobStore, parser Parser, embedder Embedder, cache ProgressCache, planner *chunkplan.Planner, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{catalog: cat, blobs: blobs, parser: parser, embedder: embedder, cache: cache, planner: planner, logger: logger.With("component", "ingest.pipeline")}
}

// ProcessMessage drives a single message through RECEIVED..ACKED. Stage
// failures (fetch, parse, empty content, embed, invalid vector) terminate in
// a Document.Failed write and a nil return, so the message is acked. A
// non-nil error is returned only when the Catalog itself fails to load the
// Document, mark it Processing, or commit the ingestion; the caller then
// releases the message for redelivery.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, PerMessageDeadline)
	defer cancel()

	documentID, err := strconv.ParseInt(msg.TaskID, 10, 64)
	if err != nil {
		p.logger.Error("malformed task id, dropping message", "task_id", msg.TaskID, "error", err)
		return nil
	}

	doc, err := p.catalog.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			// Document deleted while the message was in flight; abort and
			// treat as acked per spec §5 cancellation trigger (a).
			p.logger.Info("document no longer exists, aborting", "document_id", documentID)
			return nil
		}
		return fmt.Errorf("load document %d: %w", documentID, err)
	}

	if doc.Status == catalog.DocumentStatusCompleted {
		// Idempotence: redelivery after a successful completion is a no-op.
		return nil
	}

	if err := p.catalog.MarkProcessing(ctx, documentID); err != nil {
		return fmt.Errorf("mark processing %d: %w", documentID, err)
	}
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusProcessing, 0, "")

	scratchPath, err := p.fetchToScratch(ctx, msg.BlobHandle)
	if err != nil {
		p.fail(ctx, documentID, msg, "failed to fetch uploaded file")
		return nil
	}
	// The scratch file is the only copy of the PDF bytes on local disk; it
	// is removed on every exit path, success or failure, per spec §4.2.
	defer os.Remove(scratchPath)
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusProcessing, 10, "")

	start := time.Now()
	parseResult, err := p.parseWithTimeout(ctx, msg.Filename, scratchPath)
	if err != nil {
		p.fail(ctx, documentID, msg, "failed to parse document")
		return nil
	}
	extractionTime := time.Since(start).Seconds()
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusProcessing, 40, "")

	chunks := p.planner.Plan(parseResult.Text)
	if len(chunks) == 0 {
		// EmptyContent policy: Failed with "no extractable text", per §7/§9.
		p.failWithMessage(ctx, documentID, msg, "no extractable text")
		return nil
	}
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusProcessing, 60, "")

	vectors, err := p.embedWithRetry(ctx, chunks)
	if err != nil {
		p.fail(ctx, documentID, msg, "failed to embed chunks")
		return nil
	}
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusProcessing, 80, "")

	newChunks := make([]catalog.NewChunk, len(chunks))
	for i, c := range chunks {
		vec := normalize(vectors[i])
		if err := validateVector(vec); err != nil {
			p.failWithMessage(ctx, documentID, msg, "internal invariant violation: "+err.Error())
			return nil
		}
		newChunks[i] = catalog.NewChunk{
			ChunkIndex:  c.ChunkIndex,
			TextContent: c.Text,
			Embedding:   vec,
			TokenCount:  c.TokenCount,
		}
	}

	if err := p.catalog.CompleteIngestion(ctx, documentID, parseResult.Text, parseResult.PageCount, extractionTime, newChunks); err != nil {
		return fmt.Errorf("complete ingestion %d: %w", documentID, err)
	}

	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusCompleted, 100, "")
	if err := p.cache.WriteResult(ctx, msg.TaskID, CachedResult{
		Filename:              msg.Filename,
		PageCount:             parseResult.PageCount,
		ResultText:            parseResult.Text,
		ExtractionTimeSeconds: extractionTime,
	}, ResultCacheTTL); err != nil {
		p.logger.Warn("result cache write failed", "task_id", msg.TaskID, "error", err)
	}

	return nil
}

func (p *Pipeline) fetchToScratch(ctx context.Context, blobHandle string) (string, error) {
	var reader io.ReadCloser
	err := withRetry(ctx, func() error {
		var getErr error
		reader, getErr = p.blobs.Get(ctx, blobHandle)
		return getErr
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	scratch, err := os.CreateTemp("", "pdf-rag-*.pdf")
	if err != nil {
		return "", err
	}
	defer scratch.Close()
	if _, err := io.Copy(scratch, reader); err != nil {
		os.Remove(scratch.Name())
		return "", err
	}
	return scratch.Name(), nil
}

func (p *Pipeline) parseWithTimeout(ctx context.Context, filename, scratchPath string) (ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ParseTimeout)
	defer cancel()
	var result ParseResult
	err := withRetry(ctx, func() error {
		f, openErr := os.Open(scratchPath)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		var parseErr error
		result, parseErr = p.parser.Parse(ctx, filename, f)
		return parseErr
	})
	return result, err
}

func (p *Pipeline) embedWithRetry(ctx context.Context, chunks []chunkplan.Chunk) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, EmbedBatchTimeout*time.Duration((len(chunks)/EmbedBatchSize)+1))
	defer cancel()

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := make([]string, end-start)
		for i, c := range chunks[start:end] {
			batch[i] = c.Text
		}
		var batchVectors [][]float32
		err := withRetry(ctx, func() error {
			var embedErr error
			batchVectors, embedErr = p.embedder.Embed(ctx, batch)
			return embedErr
		})
		if err != nil {
			return nil, err
		}
		if len(batchVectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(batchVectors), len(batch))
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

func (p *Pipeline) fail(ctx context.Context, documentID int64, msg Message, reason string) {
	p.failWithMessage(ctx, documentID, msg, reason)
}

func (p *Pipeline) failWithMessage(ctx context.Context, documentID int64, msg Message, reason string) {
	if err := p.catalog.MarkFailed(ctx, documentID, reason); err != nil {
		p.logger.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
	p.writeProgress(ctx, msg.TaskID, msg.Filename, catalog.DocumentStatusFailed, 100, reason)
}

func (p *Pipeline) writeProgress(ctx context.Context, taskID, filename string, status catalog.DocumentStatus, progress int, errMsg string) {
	now := util.NowUTC()
	rec := TaskRecord{
		TaskID:   taskID,
		Status:   string(status),
		Progress: progress,
		Filename: filename,
		Error:    errMsg,
	}
	if status != catalog.DocumentStatusPending {
		rec.StartedAt = &now
	}
	if status == catalog.DocumentStatusCompleted || status == catalog.DocumentStatusFailed {
		rec.CompletedAt = &now
	}
	if err := p.cache.WriteTask(ctx, rec, TaskRecordTTL); err != nil {
		// Best-effort: a cache write failure never fails the ingestion stage.
		p.logger.Warn("progress cache write failed", "task_id", taskID, "error", err)
	}
}

// withRetry retries fn up to retryAttempts times with exponential backoff
// and jitter, per spec §4.4.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		backoff := time.Duration(float64(retryBase) * math.Pow(retryFactor, float64(attempt)))
		jitter := 1 + (rand.Float64()*2-1)*retryJitter
		wait := time.Duration(float64(backoff) * jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return apperrors.Wrap(apperrors.CodeTransientUpstream, "retries exhausted", lastErr)
}

func normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1.0) < 1e-6 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func validateVector(vec []float32) error {
	if len(vec) != catalog.EmbeddingDim {
		return fmt.Errorf("expected %d dims, got %d", catalog.EmbeddingDim, len(vec))
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.New("non-finite embedding component")
		}
	}
	return nil
}
