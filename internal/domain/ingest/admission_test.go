package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	infracatalog "github.com/ahmedafzal98/pdf-rag-api/internal/infra/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/blobstore"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/progresscache"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/queue"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
)

func newTestAdmission(t *testing.T) (*ingest.Admission, *infracatalog.MemoryCatalog, ingest.WorkQueue) {
	t.Helper()
	cat := infracatalog.NewMemoryCatalog()
	blobs := blobstore.NewMemoryBlobStore()
	cache := progresscache.NewMemoryCache()
	q := queue.NewMemoryQueue(5 * time.Minute)
	return ingest.NewAdmission(cat, blobs, cache, q, nil), cat, q
}

func TestSubmitRejectsEmptySubmission(t *testing.T) {
	admission, _, _ := newTestAdmission(t)
	_, err := admission.Submit(context.Background(), 1, nil)
	require.True(t, apperrors.IsCode(err, apperrors.CodeClientInput))
}

func TestSubmitRejectsTooManyFiles(t *testing.T) {
	admission, _, _ := newTestAdmission(t)
	files := make([]ingest.File, ingest.MaxFilesPerSubmission+1)
	for i := range files {
		files[i] = ingest.File{Filename: "a.pdf", Bytes: []byte("%PDF-1.4")}
	}
	_, err := admission.Submit(context.Background(), 1, files)
	require.True(t, apperrors.IsCode(err, apperrors.CodeClientInput))
}

func TestSubmitRejectsNonPDFAndOversizeAndEmptyFiles(t *testing.T) {
	admission, _, _ := newTestAdmission(t)

	_, err := admission.Submit(context.Background(), 1, []ingest.File{{Filename: "a.txt", Bytes: []byte("hi")}})
	require.True(t, apperrors.IsCode(err, apperrors.CodeClientInput))

	_, err = admission.Submit(context.Background(), 1, []ingest.File{{Filename: "a.pdf", Bytes: nil}})
	require.True(t, apperrors.IsCode(err, apperrors.CodeClientInput))

	oversized := make([]byte, ingest.MaxFileSizeBytes+1)
	_, err = admission.Submit(context.Background(), 1, []ingest.File{{Filename: "a.pdf", Bytes: oversized}})
	require.True(t, apperrors.IsCode(err, apperrors.CodeClientInput))
}

func TestSubmitAdmitsValidFilesAndEnqueuesEachOne(t *testing.T) {
	admission, cat, q := newTestAdmission(t)

	taskIDs, err := admission.Submit(context.Background(), 1, []ingest.File{
		{Filename: "one.pdf", Bytes: []byte("%PDF-1.4 one")},
		{Filename: "two.pdf", Bytes: []byte("%PDF-1.4 two")},
	})
	require.NoError(t, err)
	require.Len(t, taskIDs, 2)
	require.NotEqual(t, taskIDs[0], taskIDs[1])

	for range taskIDs {
		_, ok, err := q.Receive(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok, "each admitted file must be enqueued for ingestion")
	}

	doc1, err := cat.GetDocument(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "one.pdf", doc1.Filename)
}
