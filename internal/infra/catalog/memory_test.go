package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domaincatalog "github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

func TestCreateUserRejectsDuplicateEmailOrAPIKey(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	_, err := cat.CreateUser(ctx, "a@example.com", "key-a")
	require.NoError(t, err)

	_, err = cat.CreateUser(ctx, "a@example.com", "key-b")
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)

	_, err = cat.CreateUser(ctx, "b@example.com", "key-a")
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)
}

func TestFindUserByAPIKeyUnknownReturnsNotFound(t *testing.T) {
	cat := NewMemoryCatalog()
	_, err := cat.FindUserByAPIKey(context.Background(), "nope")
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)
}

func TestGetDocumentForUserEnforcesTenantIsolation(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	stranger, err := cat.CreateUser(ctx, "stranger@example.com", "stranger-key")
	require.NoError(t, err)

	doc, err := cat.CreateDocument(ctx, owner.ID, "doc.pdf", "blob/1")
	require.NoError(t, err)

	_, err = cat.GetDocumentForUser(ctx, doc.ID, owner.ID)
	require.NoError(t, err)

	_, err = cat.GetDocumentForUser(ctx, doc.ID, stranger.ID)
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)
}

func TestDeleteDocumentRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	stranger, err := cat.CreateUser(ctx, "stranger@example.com", "stranger-key")
	require.NoError(t, err)

	doc, err := cat.CreateDocument(ctx, owner.ID, "doc.pdf", "blob/1")
	require.NoError(t, err)

	err = cat.DeleteDocument(ctx, doc.ID, stranger.ID)
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)

	err = cat.DeleteDocument(ctx, doc.ID, owner.ID)
	require.NoError(t, err)

	_, err = cat.GetDocument(ctx, doc.ID)
	require.ErrorIs(t, err, domaincatalog.ErrNotFound)
}

func TestMarkProcessingIsIdempotentOnceCompleted(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	doc, err := cat.CreateDocument(ctx, owner.ID, "doc.pdf", "blob/1")
	require.NoError(t, err)

	require.NoError(t, cat.MarkProcessing(ctx, doc.ID))
	require.NoError(t, cat.CompleteIngestion(ctx, doc.ID, "text", 1, 0.5, nil))

	require.NoError(t, cat.MarkProcessing(ctx, doc.ID))

	completed, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, domaincatalog.DocumentStatusCompleted, completed.Status)
}

func TestAnnSearchScopesToTenantAndDocumentAndBreaksTiesByChunkID(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)
	stranger, err := cat.CreateUser(ctx, "stranger@example.com", "stranger-key")
	require.NoError(t, err)

	ownerDoc, err := cat.CreateDocument(ctx, owner.ID, "owner.pdf", "blob/owner")
	require.NoError(t, err)
	strangerDoc, err := cat.CreateDocument(ctx, stranger.ID, "stranger.pdf", "blob/stranger")
	require.NoError(t, err)

	vector := []float32{1, 0, 0}
	require.NoError(t, cat.CompleteIngestion(ctx, ownerDoc.ID, "text", 1, 0.1, []domaincatalog.NewChunk{
		{ChunkIndex: 0, TextContent: "a", Embedding: vector, TokenCount: 1},
		{ChunkIndex: 1, TextContent: "b", Embedding: vector, TokenCount: 1},
	}))
	require.NoError(t, cat.CompleteIngestion(ctx, strangerDoc.ID, "text", 1, 0.1, []domaincatalog.NewChunk{
		{ChunkIndex: 0, TextContent: "c", Embedding: vector, TokenCount: 1},
	}))

	results, err := cat.AnnSearch(ctx, owner.ID, vector, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "must not see the other tenant's chunks")
	require.Less(t, results[0].Chunk.ID, results[1].Chunk.ID, "equal similarity ties break by ascending chunk id")

	scoped, err := cat.AnnSearch(ctx, owner.ID, vector, 10, &ownerDoc.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
}

func TestListStalePendingOnlyReturnsOldEnoughPendingDocuments(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)

	stale, err := cat.CreateDocument(ctx, owner.ID, "stale.pdf", "blob/stale")
	require.NoError(t, err)
	fresh, err := cat.CreateDocument(ctx, owner.ID, "fresh.pdf", "blob/fresh")
	require.NoError(t, err)

	early, err := cat.ListStalePending(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Empty(t, early, "documents created after the cutoff are not stale")

	cutoff := time.Now().Add(time.Minute)

	pending, err := cat.ListStalePending(ctx, cutoff)
	require.NoError(t, err)
	ids := map[int64]bool{}
	for _, p := range pending {
		ids[p.ID] = true
	}
	require.True(t, ids[stale.ID])
	require.True(t, ids[fresh.ID])

	require.NoError(t, cat.MarkProcessing(ctx, fresh.ID))
	pending, err = cat.ListStalePending(ctx, cutoff)
	require.NoError(t, err)
	ids = map[int64]bool{}
	for _, p := range pending {
		ids[p.ID] = true
	}
	require.True(t, ids[stale.ID])
	require.False(t, ids[fresh.ID], "processing documents are no longer pending")
}

func TestListDocumentsFiltersByStatusAndPaginates(t *testing.T) {
	ctx := context.Background()
	cat := NewMemoryCatalog()

	owner, err := cat.CreateUser(ctx, "owner@example.com", "owner-key")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cat.CreateDocument(ctx, owner.ID, "doc.pdf", "blob/n")
		require.NoError(t, err)
	}

	all, err := cat.ListDocuments(ctx, owner.ID, domaincatalog.DocumentFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)

	rest, err := cat.ListDocuments(ctx, owner.ID, domaincatalog.DocumentFilter{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)

	pendingStatus := domaincatalog.DocumentStatusPending
	pending, err := cat.ListDocuments(ctx, owner.ID, domaincatalog.DocumentFilter{Status: &pendingStatus})
	require.NoError(t, err)
	require.Len(t, pending, 3)
}
