package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
	"github.com/ahmedafzal98/pdf-rag-api/pkg/util"
)

// MaxFilesPerSubmission and MaxFileSizeBytes are the bounds Admission
// enforces upstream of any Catalog write, per spec §4.1.
const (
	MaxFilesPerSubmission = 10
	MaxFileSizeBytes      = 50 * 1024 * 1024
)

// File is a single submitted upload.
type File struct {
	Filename string
	Bytes    []byte
}

// Admission validates submissions, stores blobs, assigns Document ids and
// enqueues ingestion jobs.
type Admission struct {
	catalog catalog.Catalog
	blobs   BlobStore
	cache   ProgressCache
	queue   WorkQueue
	logger  *slog.Logger
}

// NewAdmission constructs the Admission service.
func NewAdmission(cat catalog.Catalog, blobs BlobStore, cache ProgressCache, queue WorkQueue, logger *slog.Logger) *Admission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admission{catalog: cat, blobs: blobs, cache: cache, queue: queue, logger: logger.With("component", "ingest.admission")}
}

// Submit validates and admits one or more files for a user, returning the
// assigned task ids in submission order.
func (a *Admission) Submit(ctx context.Context, userID int64, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, apperrors.Wrap(apperrors.CodeClientInput, "no files submitted", nil)
	}
	if len(files) > MaxFilesPerSubmission {
		return nil, apperrors.Wrap(apperrors.CodeClientInput, fmt.Sprintf("too many files: max %d per submission", MaxFilesPerSubmission), nil)
	}
	for _, f := range files {
		if len(f.Bytes) == 0 {
			return nil, apperrors.Wrap(apperrors.CodeClientInput, "empty file: "+f.Filename, nil)
		}
		if len(f.Bytes) > MaxFileSizeBytes {
			return nil, apperrors.Wrap(apperrors.CodeClientInput, "file too large: "+f.Filename, nil)
		}
		if !strings.HasSuffix(strings.ToLower(f.Filename), ".pdf") {
			return nil, apperrors.Wrap(apperrors.CodeClientInput, "only PDF files are accepted: "+f.Filename, nil)
		}
	}

	taskIDs := make([]string, 0, len(files))
	for _, f := range files {
		taskID, err := a.submitOne(ctx, userID, f)
		if err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, taskID)
	}
	return taskIDs, nil
}

func (a *Admission) submitOne(ctx context.Context, userID int64, f File) (string, error) {
	blobHandle := blobKey(userID, f.Filename)
	if err := a.blobs.Put(ctx, blobHandle, f.Bytes); err != nil {
		return "", apperrors.Wrap(apperrors.CodeTransientUpstream, "failed to store upload", err)
	}

	doc, err := a.catalog.CreateDocument(ctx, userID, f.Filename, blobHandle)
	if err != nil {
		_ = a.blobs.Delete(ctx, blobHandle)
		return "", apperrors.Wrap(apperrors.CodeInternalInvariantViolation, "failed to create document row", err)
	}

	taskID := strconv.FormatInt(doc.ID, 10)

	if cacheErr := a.cache.WriteTask(ctx, TaskRecord{
		TaskID:    taskID,
		Status:    string(catalog.DocumentStatusPending),
		Progress:  0,
		Filename:  f.Filename,
		CreatedAt: util.NowUTC(),
	}, TaskRecordTTL); cacheErr != nil {
		a.logger.Warn("progress cache write failed", "task_id", taskID, "error", cacheErr)
	}

	msg := Message{TaskID: taskID, BlobHandle: blobHandle, Filename: f.Filename, UserID: userID}
	if err := a.queue.Enqueue(ctx, msg); err != nil {
		// Document remains Pending; the reconciliation sweep will re-enqueue
		// it (§4.1, §9). We do not roll back the Document row here because a
		// reader already observed it via ListDocuments/GetDocument.
		a.logger.Error("enqueue failed, document left pending for reconciliation", "task_id", taskID, "error", err)
		return taskID, nil
	}

	return taskID, nil
}

func blobKey(userID int64, filename string) string {
	return fmt.Sprintf("u%d/%d-%s", userID, util.NowUTC().UnixNano(), filename)
}
