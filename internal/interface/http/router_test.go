package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/retrieval"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/progresscache"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/queue"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/metrics"
)

// fakeCatalog is an in-memory catalog.Catalog sufficient to drive the HTTP
// layer's happy and error paths without a real database.
type fakeCatalog struct {
	users     map[int64]catalog.User
	documents map[int64]catalog.Document
	nextUser  int64
	nextDoc   int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		users:     make(map[int64]catalog.User),
		documents: make(map[int64]catalog.Document),
		nextUser:  1,
		nextDoc:   1,
	}
}

func (f *fakeCatalog) CreateUser(_ context.Context, email, apiKey string) (catalog.User, error) {
	u := catalog.User{ID: f.nextUser, Email: email, APIKey: apiKey, CreatedAt: time.Now().UTC()}
	f.users[u.ID] = u
	f.nextUser++
	return u, nil
}

func (f *fakeCatalog) GetUser(_ context.Context, id int64) (catalog.User, error) {
	u, ok := f.users[id]
	if !ok {
		return catalog.User{}, catalog.ErrNotFound
	}
	return u, nil
}

func (f *fakeCatalog) FindUserByAPIKey(_ context.Context, apiKey string) (catalog.User, error) {
	for _, u := range f.users {
		if u.APIKey == apiKey {
			return u, nil
		}
	}
	return catalog.User{}, catalog.ErrNotFound
}

func (f *fakeCatalog) CreateDocument(_ context.Context, userID int64, filename, blobHandle string) (catalog.Document, error) {
	d := catalog.Document{
		ID: f.nextDoc, UserID: userID, Filename: filename, BlobHandle: blobHandle,
		Status: catalog.DocumentStatusPending, CreatedAt: time.Now().UTC(),
	}
	f.documents[d.ID] = d
	f.nextDoc++
	return d, nil
}

func (f *fakeCatalog) MarkProcessing(_ context.Context, documentID int64) error { return nil }

func (f *fakeCatalog) CompleteIngestion(_ context.Context, documentID int64, resultText string, pageCount int, extractionTimeSeconds float64, chunks []catalog.NewChunk) error {
	return nil
}

func (f *fakeCatalog) MarkFailed(_ context.Context, documentID int64, errorMessage string) error {
	return nil
}

func (f *fakeCatalog) GetDocument(_ context.Context, documentID int64) (catalog.Document, error) {
	d, ok := f.documents[documentID]
	if !ok {
		return catalog.Document{}, catalog.ErrNotFound
	}
	return d, nil
}

func (f *fakeCatalog) GetDocumentForUser(_ context.Context, documentID, userID int64) (catalog.Document, error) {
	d, ok := f.documents[documentID]
	if !ok || d.UserID != userID {
		return catalog.Document{}, catalog.ErrNotFound
	}
	return d, nil
}

func (f *fakeCatalog) ListDocuments(_ context.Context, userID int64, filter catalog.DocumentFilter) ([]catalog.Document, error) {
	var out []catalog.Document
	for _, d := range f.documents {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeCatalog) DeleteDocument(_ context.Context, documentID, userID int64) error {
	d, ok := f.documents[documentID]
	if !ok || d.UserID != userID {
		return catalog.ErrNotFound
	}
	delete(f.documents, documentID)
	return nil
}

func (f *fakeCatalog) AnnSearch(_ context.Context, userID int64, queryVector []float32, topK int, documentID *int64) ([]catalog.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeCatalog) ListStalePending(_ context.Context, olderThan time.Time) ([]catalog.PendingDocument, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(_ context.Context, model, systemPrompt, contextStr, question string, temperature float32, maxTokens int) (chat.Answer, error) {
	return chat.Answer{Text: "test answer", Model: "test-model", Usage: metrics.TokenUsage{TotalTokens: 1}}, nil
}

type testDeps struct {
	router  http.Handler
	catalog *fakeCatalog
	cache   ingest.ProgressCache
}

func newRouterUnderTest(t *testing.T) testDeps {
	t.Helper()

	cat := newFakeCatalog()
	cache := progresscache.NewMemoryCache()
	blobs := make(memoryBlobStub)
	q := queue.NewMemoryQueue(5 * time.Minute)

	admission := ingest.NewAdmission(cat, blobs, cache, q, nil)
	retr := retrieval.NewService(cat, fakeEmbedder{}, nil)
	chatSvc := chat.NewService(retr, fakeSynthesizer{}, chat.Config{}, nil)

	handler := NewHandler(admission, cat, cache, blobs, chatSvc, 50, nil)

	cfg := &config.Config{}
	cfg.HTTP.Address = ":0"
	cfg.HTTP.ReadTimeout = 5 * time.Second
	cfg.HTTP.WriteTimeout = 5 * time.Second

	srv := NewRouter(cfg, handler, nil)
	return testDeps{router: srv.Handler, catalog: cat, cache: cache}
}

// memoryBlobStub is a minimal ingest.BlobStore good enough for router tests.
type memoryBlobStub map[string][]byte

func (m memoryBlobStub) Put(_ context.Context, key string, data []byte) error {
	m[key] = data
	return nil
}

func (m memoryBlobStub) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memoryBlobStub) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func performRequest(handler http.Handler, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func createTestUser(t *testing.T, deps testDeps) userResponse {
	t.Helper()
	rec := performRequest(deps.router, http.MethodPost, "/users", bytes.NewBufferString(`{"email":"a@example.com"}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var user userResponse
	decodeJSON(t, rec, &user)
	return user
}

func TestHealthReturnsOK(t *testing.T) {
	deps := newRouterUnderTest(t)
	rec := performRequest(deps.router, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetUser(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)
	require.NotEmpty(t, user.APIKey)

	rec := performRequest(deps.router, http.MethodGet, "/users/1", nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUserWithoutAPIKeyIsUnauthorized(t *testing.T) {
	deps := newRouterUnderTest(t)
	createTestUser(t, deps)
	rec := performRequest(deps.router, http.MethodGet, "/users/1", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func buildUploadBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadDocumentHappyPath(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)

	body, contentType := buildUploadBody(t, "doc.pdf", []byte("%PDF-1.4 fake content"))
	rec := performRequest(deps.router, http.MethodPost, "/upload?user_id=1", body, map[string]string{
		"X-API-Key":    user.APIKey,
		"Content-Type": contentType,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp uploadResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.TaskIDs, 1)
	require.Equal(t, 1, resp.TotalFiles)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)

	body, contentType := buildUploadBody(t, "doc.txt", []byte("not a pdf"))
	rec := performRequest(deps.router, http.MethodPost, "/upload?user_id=1", body, map[string]string{
		"X-API-Key":    user.APIKey,
		"Content-Type": contentType,
	})
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadRejectsMismatchedUser(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)

	body, contentType := buildUploadBody(t, "doc.pdf", []byte("%PDF-1.4"))
	rec := performRequest(deps.router, http.MethodPost, "/upload?user_id=999", body, map[string]string{
		"X-API-Key":    user.APIKey,
		"Content-Type": contentType,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusUnknownTaskReturns404(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)
	rec := performRequest(deps.router, http.MethodGet, "/status/999", nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusFallsBackToCatalogOnCacheMiss(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)
	doc, err := deps.catalog.CreateDocument(context.Background(), user.ID, "doc.pdf", "handle")
	require.NoError(t, err)

	rec := performRequest(deps.router, http.MethodGet, "/status/"+strconv.FormatInt(doc.ID, 10), nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	decodeJSON(t, rec, &status)
	require.Equal(t, string(catalog.DocumentStatusPending), status.Status)
}

func TestGetResultReturns404WhenDocumentNotCompleted(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)
	doc, err := deps.catalog.CreateDocument(context.Background(), user.ID, "doc.pdf", "handle")
	require.NoError(t, err)

	rec := performRequest(deps.router, http.MethodGet, "/result/"+strconv.FormatInt(doc.ID, 10), nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatWithNoDocumentsReturnsCannedAnswer(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)

	rec := performRequest(deps.router, http.MethodPost, "/chat?user_id=1", bytes.NewBufferString(`{"question":"what is this about?"}`), map[string]string{
		"X-API-Key":    user.APIKey,
		"Content-Type": "application/json",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chat.Response
	decodeJSON(t, rec, &resp)
	require.Equal(t, chat.NoHitsAnswer, resp.Answer)
}

func TestChatWithUnknownDocumentIDReturns404(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)

	rec := performRequest(deps.router, http.MethodPost, "/chat?user_id=1", bytes.NewBufferString(`{"question":"anything?","document_id":999}`), map[string]string{
		"X-API-Key":    user.APIKey,
		"Content-Type": "application/json",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTaskRemovesDocument(t *testing.T) {
	deps := newRouterUnderTest(t)
	user := createTestUser(t, deps)
	doc, err := deps.catalog.CreateDocument(context.Background(), user.ID, "doc.pdf", "handle")
	require.NoError(t, err)

	rec := performRequest(deps.router, http.MethodDelete, "/task/"+strconv.FormatInt(doc.ID, 10)+"?user_id=1", nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = performRequest(deps.router, http.MethodGet, "/documents/"+strconv.FormatInt(doc.ID, 10)+"?user_id=1", nil, map[string]string{"X-API-Key": user.APIKey})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

