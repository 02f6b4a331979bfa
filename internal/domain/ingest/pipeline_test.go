package ingest_test

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	domaincatalog "github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest/chunkplan"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/blobstore"
	infracatalog "github.com/ahmedafzal98/pdf-rag-api/internal/infra/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/progresscache"
)

// stubParser returns a fixed ParseResult, or fails every call if err is set.
type stubParser struct {
	text string
	err  error
}

func (s stubParser) Parse(_ context.Context, _ string, _ io.Reader) (ingest.ParseResult, error) {
	if s.err != nil {
		return ingest.ParseResult{}, s.err
	}
	return ingest.ParseResult{Text: s.text, PageCount: 1}, nil
}

// stubEmbedder returns one unit vector per input text, or fails if err is set.
type stubEmbedder struct {
	err error
}

func (s stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, domaincatalog.EmbeddingDim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func newTestPipeline(t *testing.T, parser ingest.Parser, embedder ingest.Embedder) (*ingest.Pipeline, *infracatalog.MemoryCatalog, *blobstore.MemoryBlobStore) {
	t.Helper()
	cat := infracatalog.NewMemoryCatalog()
	blobs := blobstore.NewMemoryBlobStore()
	cache := progresscache.NewMemoryCache()
	planner := chunkplan.New(chunkplan.DefaultTargetTokens, chunkplan.DefaultOverlapTokens)
	pipeline := ingest.NewPipeline(cat, blobs, parser, embedder, cache, planner, nil)
	return pipeline, cat, blobs
}

func seedPendingDocument(t *testing.T, ctx context.Context, cat *infracatalog.MemoryCatalog, blobs *blobstore.MemoryBlobStore, filename, blobHandle string, body []byte) (*domaincatalog.Document, ingest.Message) {
	t.Helper()
	user, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	doc, err := cat.CreateDocument(ctx, user.ID, filename, blobHandle)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, blobHandle, body))
	msg := ingest.Message{
		TaskID:     strconv.FormatInt(doc.ID, 10),
		BlobHandle: blobHandle,
		Filename:   filename,
		UserID:     user.ID,
	}
	return doc, msg
}

func TestProcessMessageHappyPathCompletesDocumentAndChunks(t *testing.T) {
	ctx := context.Background()
	pipeline, cat, blobs := newTestPipeline(t, stubParser{text: "the quick brown fox jumps over the lazy dog"}, stubEmbedder{})

	doc, msg := seedPendingDocument(t, ctx, cat, blobs, "report.pdf", "blob/report", []byte("%PDF-1.4 ..."))

	require.NoError(t, pipeline.ProcessMessage(ctx, msg))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domaincatalog.DocumentStatusCompleted, got.Status)

	results, err := cat.AnnSearch(ctx, msg.UserID, []float32{1}, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results, "completed ingestion must persist at least one searchable chunk")
}

func TestProcessMessageWithNoExtractableTextMarksFailed(t *testing.T) {
	ctx := context.Background()
	pipeline, cat, blobs := newTestPipeline(t, stubParser{text: "   "}, stubEmbedder{})

	doc, msg := seedPendingDocument(t, ctx, cat, blobs, "blank.pdf", "blob/blank", []byte("%PDF-1.4 ..."))

	require.NoError(t, pipeline.ProcessMessage(ctx, msg))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domaincatalog.DocumentStatusFailed, got.Status)
}

func TestProcessMessageParserFailureMarksFailedWithoutRedelivery(t *testing.T) {
	ctx := context.Background()
	pipeline, cat, blobs := newTestPipeline(t, stubParser{err: errors.New("corrupt pdf")}, stubEmbedder{})

	doc, msg := seedPendingDocument(t, ctx, cat, blobs, "corrupt.pdf", "blob/corrupt", []byte("not a pdf"))

	// A terminal parser failure is recorded on the document and the message
	// is still considered handled: ProcessMessage returns nil so the worker
	// acks rather than redelivering a document that will never parse.
	require.NoError(t, pipeline.ProcessMessage(ctx, msg))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domaincatalog.DocumentStatusFailed, got.Status)
}

func TestProcessMessageOnAlreadyCompletedDocumentIsNoOp(t *testing.T) {
	ctx := context.Background()
	pipeline, cat, blobs := newTestPipeline(t, stubParser{text: "hello world this is some text"}, stubEmbedder{})

	doc, msg := seedPendingDocument(t, ctx, cat, blobs, "twice.pdf", "blob/twice", []byte("%PDF-1.4 ..."))
	require.NoError(t, pipeline.ProcessMessage(ctx, msg))

	before, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	// Redelivery of the same message after completion must be a pure no-op.
	require.NoError(t, pipeline.ProcessMessage(ctx, msg))

	after, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
}

func TestProcessMessageOnDeletedDocumentReturnsNilWithoutPanicking(t *testing.T) {
	ctx := context.Background()
	pipeline, cat, blobs := newTestPipeline(t, stubParser{text: "irrelevant"}, stubEmbedder{})

	doc, msg := seedPendingDocument(t, ctx, cat, blobs, "gone.pdf", "blob/gone", []byte("%PDF-1.4 ..."))
	require.NoError(t, cat.DeleteDocument(ctx, doc.ID, msg.UserID))

	require.NoError(t, pipeline.ProcessMessage(ctx, msg))
}

func TestProcessMessageWithMalformedTaskIDIsDroppedNotRetried(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _ := newTestPipeline(t, stubParser{text: "irrelevant"}, stubEmbedder{})

	err := pipeline.ProcessMessage(ctx, ingest.Message{TaskID: "not-an-id", BlobHandle: "blob/x", Filename: "x.pdf"})
	require.NoError(t, err)
}
