package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/catalog"
)

// StalePendingGrace is how long a Document may sit in Pending before the
// reconciliation sweep assumes Admission failed between the Catalog write
// and the WorkQueue enqueue, and re-enqueues it. Spec §4.1/§9 leaves this
// as an implementer's choice; this is the sweep's own judgment call, not a
// spec-mandated value.
const StalePendingGrace = 5 * time.Minute

// Reconciler periodically rescans the Catalog for Documents stuck in
// Pending and re-enqueues them, closing the gap left when Admission
// crashes between the Document insert and the WorkQueue enqueue.
type Reconciler struct {
	catalog catalog.Catalog
	queue   WorkQueue
	logger  *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cat catalog.Catalog, queue WorkQueue, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{catalog: cat, queue: queue, logger: logger.With("component", "ingest.reconciler")}
}

// Sweep re-enqueues every Pending document older than StalePendingGrace.
func (r *Reconciler) Sweep(ctx context.Context) error {
	stale, err := r.catalog.ListStalePending(ctx, time.Now().Add(-StalePendingGrace))
	if err != nil {
		return err
	}
	for _, doc := range stale {
		full, err := r.catalog.GetDocument(ctx, doc.ID)
		if err != nil {
			r.logger.Warn("reconciliation: failed to load stale document", "document_id", doc.ID, "error", err)
			continue
		}
		msg := Message{
			TaskID:     strconv.FormatInt(doc.ID, 10),
			BlobHandle: full.BlobHandle,
			Filename:   full.Filename,
			UserID:     doc.UserID,
		}
		if err := r.queue.Enqueue(ctx, msg); err != nil {
			r.logger.Warn("reconciliation: re-enqueue failed", "document_id", doc.ID, "error", err)
			continue
		}
		r.logger.Info("reconciliation: re-enqueued stale pending document", "document_id", doc.ID)
	}
	return nil
}

// Run loops Sweep on interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
