package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domaincatalog "github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	infracatalog "github.com/ahmedafzal98/pdf-rag-api/internal/infra/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/queue"
)

// staleOverrideCatalog wraps the real MemoryCatalog and forces
// ListStalePending to report a fixed set of documents as stale, since the
// real implementation filters on wall-clock age and StalePendingGrace is
// too long to wait out in a test.
type staleOverrideCatalog struct {
	*infracatalog.MemoryCatalog
	stale []domaincatalog.PendingDocument
}

func (s staleOverrideCatalog) ListStalePending(_ context.Context, _ time.Time) ([]domaincatalog.PendingDocument, error) {
	return s.stale, nil
}

func TestSweepReenqueuesStalePendingDocuments(t *testing.T) {
	ctx := context.Background()
	cat := infracatalog.NewMemoryCatalog()
	q := queue.NewMemoryQueue(5 * time.Minute)

	user, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	doc, err := cat.CreateDocument(ctx, user.ID, "stuck.pdf", "blob/stuck")
	require.NoError(t, err)

	wrapped := staleOverrideCatalog{
		MemoryCatalog: cat,
		stale: []domaincatalog.PendingDocument{
			{ID: doc.ID, UserID: user.ID, CreatedAt: time.Now().Add(-time.Hour)},
		},
	}
	reconciler := ingest.NewReconciler(wrapped, q, nil)

	require.NoError(t, reconciler.Sweep(ctx))

	delivery, ok, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "stale pending document must be re-enqueued")
	require.Equal(t, "stuck.pdf", delivery.Message.Filename)
	require.Equal(t, "blob/stuck", delivery.Message.BlobHandle)
}

func TestSweepSkipsDocumentThatNoLongerExists(t *testing.T) {
	ctx := context.Background()
	cat := infracatalog.NewMemoryCatalog()
	q := queue.NewMemoryQueue(5 * time.Minute)

	wrapped := staleOverrideCatalog{
		MemoryCatalog: cat,
		stale: []domaincatalog.PendingDocument{
			{ID: 999, UserID: 1, CreatedAt: time.Now().Add(-time.Hour)},
		},
	}
	reconciler := ingest.NewReconciler(wrapped, q, nil)

	require.NoError(t, reconciler.Sweep(ctx))

	_, ok, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "a document that no longer exists must not be enqueued")
}

func TestSweepWithNoStaleDocumentsIsNoOp(t *testing.T) {
	ctx := context.Background()
	cat := infracatalog.NewMemoryCatalog()
	q := queue.NewMemoryQueue(5 * time.Minute)

	reconciler := ingest.NewReconciler(cat, q, nil)
	require.NoError(t, reconciler.Sweep(ctx))

	_, ok, err := q.Receive(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}
