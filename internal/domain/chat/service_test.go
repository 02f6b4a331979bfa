package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/retrieval"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/metrics"
)

type stubCatalog struct {
	chunks []catalog.ScoredChunk
}

func (s *stubCatalog) CreateUser(ctx context.Context, email, apiKey string) (catalog.User, error) {
	return catalog.User{}, nil
}
func (s *stubCatalog) GetUser(ctx context.Context, id int64) (catalog.User, error) {
	return catalog.User{}, nil
}
func (s *stubCatalog) FindUserByAPIKey(ctx context.Context, apiKey string) (catalog.User, error) {
	return catalog.User{}, nil
}
func (s *stubCatalog) CreateDocument(ctx context.Context, userID int64, filename, blobHandle string) (catalog.Document, error) {
	return catalog.Document{}, nil
}
func (s *stubCatalog) MarkProcessing(ctx context.Context, documentID int64) error { return nil }
func (s *stubCatalog) CompleteIngestion(ctx context.Context, documentID int64, resultText string, pageCount int, extractionTimeSeconds float64, chunks []catalog.NewChunk) error {
	return nil
}
func (s *stubCatalog) MarkFailed(ctx context.Context, documentID int64, errorMessage string) error {
	return nil
}
func (s *stubCatalog) GetDocument(ctx context.Context, documentID int64) (catalog.Document, error) {
	return catalog.Document{}, nil
}
func (s *stubCatalog) GetDocumentForUser(ctx context.Context, documentID, userID int64) (catalog.Document, error) {
	return catalog.Document{ID: documentID, UserID: userID}, nil
}
func (s *stubCatalog) ListDocuments(ctx context.Context, userID int64, filter catalog.DocumentFilter) ([]catalog.Document, error) {
	return nil, nil
}
func (s *stubCatalog) DeleteDocument(ctx context.Context, documentID, userID int64) error { return nil }
func (s *stubCatalog) AnnSearch(ctx context.Context, userID int64, queryVector []float32, topK int, documentID *int64) ([]catalog.ScoredChunk, error) {
	return s.chunks, nil
}
func (s *stubCatalog) ListStalePending(ctx context.Context, olderThan time.Time) ([]catalog.PendingDocument, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubSynthesizer struct {
	called bool
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, model, systemPrompt, contextStr, question string, temperature float32, maxTokens int) (chat.Answer, error) {
	s.called = true
	return chat.Answer{Text: "final answer", Model: "test-model", Usage: metrics.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func TestAskReturnsCannedResponseWithNoHits(t *testing.T) {
	cat := &stubCatalog{}
	retr := retrieval.NewService(cat, stubEmbedder{}, nil)
	synth := &stubSynthesizer{}
	svc := chat.NewService(retr, synth, chat.Config{}, nil)

	resp, err := svc.Ask(context.Background(), 1, "what is the capital of France?", 5, nil, "")
	require.NoError(t, err)
	require.False(t, synth.called)
	require.Empty(t, resp.Sources)
	require.Equal(t, 0, resp.ChunksFound)
	require.Equal(t, chat.NoHitsAnswer, resp.Answer)
}

func TestAskReturnsSourcesWhenHitsFound(t *testing.T) {
	cat := &stubCatalog{
		chunks: []catalog.ScoredChunk{
			{Chunk: catalog.Chunk{ID: 1, DocumentID: 5, ChunkIndex: 0, TextContent: "cats are great pets"}, Filename: "cats.pdf", Similarity: 0.8},
		},
	}
	retr := retrieval.NewService(cat, stubEmbedder{}, nil)
	synth := &stubSynthesizer{}
	svc := chat.NewService(retr, synth, chat.Config{}, nil)

	resp, err := svc.Ask(context.Background(), 1, "tell me about cats", 5, nil, "")
	require.NoError(t, err)
	require.True(t, synth.called)
	require.Len(t, resp.Sources, 1)
	require.Equal(t, 1, resp.ChunksFound)
	require.Equal(t, "final answer", resp.Answer)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestAskChunksFoundMatchesSourcesAfterContextBudgetTruncation(t *testing.T) {
	cat := &stubCatalog{
		chunks: []catalog.ScoredChunk{
			{Chunk: catalog.Chunk{ID: 1, DocumentID: 5, ChunkIndex: 0, TextContent: "one two three four five six seven eight nine ten"}, Filename: "a.pdf", Similarity: 0.9},
			{Chunk: catalog.Chunk{ID: 2, DocumentID: 5, ChunkIndex: 1, TextContent: "eleven twelve thirteen fourteen fifteen sixteen seventeen"}, Filename: "a.pdf", Similarity: 0.8},
			{Chunk: catalog.Chunk{ID: 3, DocumentID: 5, ChunkIndex: 2, TextContent: "eighteen nineteen twenty twentyone twentytwo twentythree"}, Filename: "a.pdf", Similarity: 0.7},
		},
	}
	retr := retrieval.NewService(cat, stubEmbedder{}, nil)
	synth := &stubSynthesizer{}
	// A 1-token budget forces buildContext to keep only the first chunk and
	// truncate the rest, per spec scenario 6's "sources with at most top_k
	// entries and chunks_found equal to returned count".
	svc := chat.NewService(retr, synth, chat.Config{ContextBudget: 1}, nil)

	resp, err := svc.Ask(context.Background(), 1, "tell me about numbers", 5, nil, "")
	require.NoError(t, err)
	require.Less(t, len(resp.Sources), len(cat.chunks), "budget must actually truncate for this test to be meaningful")
	require.Equal(t, len(resp.Sources), resp.ChunksFound)
}
