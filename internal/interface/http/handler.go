package http

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/chat"
	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/util"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler wires the domain services into gin endpoints.
type Handler struct {
	admission    *ingest.Admission
	catalog      catalog.Catalog
	cache        ingest.ProgressCache
	blobs        ingest.BlobStore
	chat         *chat.Service
	maxFileBytes int64
	logger       *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(admission *ingest.Admission, cat catalog.Catalog, cache ingest.ProgressCache, blobs ingest.BlobStore, chatSvc *chat.Service, maxFileSizeMB int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 50
	}
	return &Handler{
		admission:    admission,
		catalog:      cat,
		cache:        cache,
		blobs:        blobs,
		chat:         chatSvc,
		maxFileBytes: int64(maxFileSizeMB) * 1024 * 1024,
		logger:       logger.With("component", "http.handler"),
	}
}

// errMessage extracts the user-facing message from a wrapped AppError,
// falling back to the error's own text.
func errMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func (h *Handler) handleAppError(c *gin.Context, err error) {
	switch {
	case apperrors.IsCode(err, apperrors.CodeClientInput):
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, errMessage(err), err))
	case apperrors.IsCode(err, apperrors.CodeNotFound):
		abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, errMessage(err), err))
	case apperrors.IsCode(err, apperrors.CodeEmptyContent):
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, apperrors.CodeEmptyContent, errMessage(err), err))
	case apperrors.IsCode(err, apperrors.CodeTransientUpstream):
		abortWithError(c, NewHTTPError(http.StatusServiceUnavailable, apperrors.CodeTransientUpstream, errMessage(err), err))
	case apperrors.IsCode(err, apperrors.CodePermanentUpstream):
		abortWithError(c, NewHTTPError(http.StatusBadGateway, apperrors.CodePermanentUpstream, errMessage(err), err))
	case apperrors.IsCode(err, apperrors.CodeInternalInvariantViolation):
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, apperrors.CodeInternalInvariantViolation, errMessage(err), err))
	default:
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "something went wrong", err))
	}
}

// --- Upload ---

type uploadResponse struct {
	TaskIDs    []string `json:"task_ids"`
	TotalFiles int      `json:"total_files"`
}

func (h *Handler) UploadDocument(c *gin.Context) {
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "user_id is required", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid multipart form", err))
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "no files submitted", nil))
		return
	}

	files := make([]ingest.File, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > h.maxFileBytes {
			abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, apperrors.CodeClientInput, "file too large: "+fh.Filename, nil))
			return
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			abortWithError(c, NewHTTPError(http.StatusUnsupportedMediaType, apperrors.CodeClientInput, "only PDF files are accepted: "+fh.Filename, nil))
			return
		}
		src, err := fh.Open()
		if err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "failed to read file: "+fh.Filename, err))
			return
		}
		data, err := io.ReadAll(src)
		_ = src.Close()
		if err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "failed to read file: "+fh.Filename, err))
			return
		}
		files = append(files, ingest.File{Filename: fh.Filename, Bytes: data})
	}

	taskIDs, err := h.admission.Submit(c.Request.Context(), userID, files)
	if err != nil {
		h.handleAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{TaskIDs: taskIDs, TotalFiles: len(taskIDs)})
}

// --- Status / Result / Tasks ---

type statusResponse struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Filename    string     `json:"filename"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func statusFromRecord(rec ingest.TaskRecord) statusResponse {
	return statusResponse{
		TaskID:      rec.TaskID,
		Status:      rec.Status,
		Progress:    rec.Progress,
		Filename:    rec.Filename,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Error:       rec.Error,
	}
}

func progressForStatus(status catalog.DocumentStatus) int {
	switch status {
	case catalog.DocumentStatusCompleted:
		return 100
	case catalog.DocumentStatusProcessing:
		return 50
	default:
		return 0
	}
}

func statusFromDocument(doc catalog.Document) statusResponse {
	return statusResponse{
		TaskID:      strconv.FormatInt(doc.ID, 10),
		Status:      string(doc.Status),
		Progress:    progressForStatus(doc.Status),
		Filename:    doc.Filename,
		CreatedAt:   doc.CreatedAt,
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
		Error:       doc.ErrorMessage,
	}
}

func (h *Handler) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")

	rec, ok, err := h.cache.ReadTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Warn("progress cache read failed", "task_id", taskID, "error", err)
	}
	if ok {
		c.JSON(http.StatusOK, statusFromRecord(rec))
		return
	}

	docID, parseErr := strconv.ParseInt(taskID, 10, 64)
	if parseErr != nil {
		abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "task not found", nil))
		return
	}
	doc, err := h.catalog.GetDocument(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "task not found", nil))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to load task", err))
		return
	}
	c.JSON(http.StatusOK, statusFromDocument(doc))
}

type resultResponse struct {
	TaskID                string  `json:"task_id"`
	Filename              string  `json:"filename"`
	Text                  string  `json:"text"`
	PageCount             int     `json:"page_count,omitempty"`
	ExtractionTimeSeconds float64 `json:"extraction_time_seconds,omitempty"`
}

func (h *Handler) GetResult(c *gin.Context) {
	taskID := c.Param("task_id")

	cached, ok, err := h.cache.ReadResult(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Warn("progress cache read failed", "task_id", taskID, "error", err)
	}
	if ok {
		c.JSON(http.StatusOK, resultResponse{
			TaskID:                taskID,
			Filename:              cached.Filename,
			Text:                  cached.ResultText,
			PageCount:             cached.PageCount,
			ExtractionTimeSeconds: cached.ExtractionTimeSeconds,
		})
		return
	}

	docID, parseErr := strconv.ParseInt(taskID, 10, 64)
	if parseErr != nil {
		abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "result not found", nil))
		return
	}
	doc, err := h.catalog.GetDocument(c.Request.Context(), docID)
	if err != nil || doc.Status != catalog.DocumentStatusCompleted || doc.ResultText == "" {
		abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "result not found", nil))
		return
	}
	c.JSON(http.StatusOK, resultResponse{
		TaskID:                taskID,
		Filename:              doc.Filename,
		Text:                  doc.ResultText,
		PageCount:             doc.PageCount,
		ExtractionTimeSeconds: doc.ExtractionTimeSeconds,
	})
}

type taskListResponse struct {
	Items []statusResponse `json:"items"`
	Total int              `json:"total"`
}

func (h *Handler) ListTasks(c *gin.Context) {
	offset, limit := parsePagination(c)

	ids, err := h.cache.ListTaskIDs(c.Request.Context(), offset, limit)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, apperrors.CodeCacheError, "failed to list tasks", err))
		return
	}
	items := make([]statusResponse, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := h.cache.ReadTask(c.Request.Context(), id)
		if err != nil || !ok {
			continue
		}
		items = append(items, statusFromRecord(rec))
	}
	// ProgressCache is advisory and exposes no total count; total reflects
	// the lower bound implied by this page, per the cache's best-effort
	// contract.
	c.JSON(http.StatusOK, taskListResponse{Items: items, Total: offset + len(items)})
}

// --- Documents ---

func documentJSON(doc catalog.Document) gin.H {
	return gin.H{
		"id":                      doc.ID,
		"user_id":                 doc.UserID,
		"filename":                doc.Filename,
		"status":                  doc.Status,
		"page_count":              doc.PageCount,
		"extraction_time_seconds": doc.ExtractionTimeSeconds,
		"error_message":           doc.ErrorMessage,
		"created_at":              doc.CreatedAt,
		"started_at":              doc.StartedAt,
		"completed_at":            doc.CompletedAt,
	}
}

func (h *Handler) ListDocuments(c *gin.Context) {
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "user_id is required", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}
	offset, limit := parsePagination(c)

	filter := catalog.DocumentFilter{Offset: offset, Limit: limit}
	if raw := c.Query("status_filter"); raw != "" {
		status := catalog.DocumentStatus(raw)
		switch status {
		case catalog.DocumentStatusPending, catalog.DocumentStatusProcessing, catalog.DocumentStatusCompleted, catalog.DocumentStatusFailed:
			filter.Status = &status
		default:
			abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid status_filter", nil))
			return
		}
	}

	docs, err := h.catalog.ListDocuments(c.Request.Context(), userID, filter)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to list documents", err))
		return
	}
	out := make([]gin.H, len(docs))
	for i, d := range docs {
		out[i] = documentJSON(d)
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "total": offset + len(out)})
}

func (h *Handler) GetDocument(c *gin.Context) {
	docID, ok := parseInt64Param(c, "id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid document id", nil))
		return
	}
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "user_id is required", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}

	doc, err := h.catalog.GetDocumentForUser(c.Request.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "document not found", nil))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to load document", err))
		return
	}
	c.JSON(http.StatusOK, documentJSON(doc))
}

func (h *Handler) DeleteTask(c *gin.Context) {
	taskID := c.Param("task_id")
	docID, ok := parseInt64String(taskID)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid task id", nil))
		return
	}
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "user_id is required", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}

	doc, err := h.catalog.GetDocumentForUser(c.Request.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "task not found", nil))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to load task", err))
		return
	}

	if err := h.catalog.DeleteDocument(c.Request.Context(), docID, userID); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to delete task", err))
		return
	}
	if err := h.cache.DeleteTask(c.Request.Context(), taskID); err != nil {
		h.logger.Warn("progress cache delete failed", "task_id", taskID, "error", err)
	}
	if doc.BlobHandle != "" {
		if err := h.blobs.Delete(c.Request.Context(), doc.BlobHandle); err != nil {
			h.logger.Warn("blob delete failed", "task_id", taskID, "blob_handle", doc.BlobHandle, "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}

// --- Users ---

type createUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

func userJSON(u catalog.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, APIKey: u.APIKey, CreatedAt: u.CreatedAt}
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid request body", err))
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to generate api key", err))
		return
	}

	user, err := h.catalog.CreateUser(c.Request.Context(), req.Email, apiKey)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "failed to create user", err))
		return
	}
	c.JSON(http.StatusCreated, userJSON(user))
}

func (h *Handler) GetUser(c *gin.Context) {
	userID, ok := parseInt64Param(c, "id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid user id", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}
	user, err := h.catalog.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "user not found", nil))
			return
		}
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "failed to load user", err))
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// --- Chat ---

type chatRequest struct {
	Question   string `json:"question" binding:"required,min=1,max=2000"`
	DocumentID *int64 `json:"document_id,omitempty"`
	TopK       int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=20"`
	Model      string `json:"model,omitempty"`
}

func (h *Handler) Chat(c *gin.Context) {
	userID, ok := parseInt64Query(c, "user_id")
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "user_id is required", nil))
		return
	}
	if !requireMatchingUser(c, userID) {
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, apperrors.CodeClientInput, "invalid request body", err))
		return
	}

	resp, err := h.chat.Ask(c.Request.Context(), userID, req.Question, req.TopK, req.DocumentID, req.Model)
	if err != nil {
		h.handleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- Health ---

func (h *Handler) Health(c *gin.Context) {
	status := gin.H{"status": "ok", "postgres": "ok", "redis": "ok"}

	ctx := c.Request.Context()
	if _, err := h.catalog.ListStalePending(ctx, util.NowUTC()); err != nil {
		status["postgres"] = "error"
		status["status"] = "degraded"
	}
	if _, _, err := h.cache.ReadTask(ctx, "__health__"); err != nil {
		status["redis"] = "error"
		status["status"] = "degraded"
	}
	c.JSON(http.StatusOK, status)
}

// --- helpers ---

func parseInt64Query(c *gin.Context, key string) (int64, bool) {
	return parseInt64String(c.Query(key))
}

func parseInt64Param(c *gin.Context, key string) (int64, bool) {
	return parseInt64String(c.Param(key))
}

func parseInt64String(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parsePagination(c *gin.Context) (offset, limit int) {
	offset = 0
	limit = defaultListLimit
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return offset, limit
}
