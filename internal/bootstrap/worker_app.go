package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	"github.com/ahmedafzal98/pdf-rag-api/internal/infra/config"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
)

// WorkerApp runs a pool of IngestionPipeline consumers against the
// WorkQueue, alongside a ticker that periodically re-enqueues Documents
// stuck in Pending.
type WorkerApp struct {
	cfg        *config.Config
	logger     *slog.Logger
	queue      ingest.WorkQueue
	pipeline   *ingest.Pipeline
	reconciler *ingest.Reconciler
}

// NewWorkerApp is used by Wire to build the runnable worker app.
func NewWorkerApp(cfg *config.Config, logger *slog.Logger, queue ingest.WorkQueue, pipeline *ingest.Pipeline, reconciler *ingest.Reconciler) *WorkerApp {
	return &WorkerApp{
		cfg:        cfg,
		logger:     logger.With("component", "bootstrap.worker"),
		queue:      queue,
		pipeline:   pipeline,
		reconciler: reconciler,
	}
}

// Run fans the consumer pool and the reconciliation ticker out over an
// errgroup: a fatal WorkQueue failure in any one worker cancels its
// siblings via the group's derived context and is returned as Run's error,
// instead of a bad connection silently spinning forever in one goroutine
// while the rest of the pool looks healthy.
func (a *WorkerApp) Run(ctx context.Context) error {
	poolSize := a.cfg.Worker.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	a.logger.Info("worker starting", "pool_size", poolSize)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < poolSize; i++ {
		workerID := i
		g.Go(func() error {
			return a.consume(gctx, workerID)
		})
	}
	g.Go(func() error {
		a.reconciler.Run(gctx, a.cfg.Worker.ReconcileInterval)
		return nil
	})

	// g.Wait returns once every goroutine has exited: either a fatal worker
	// error cancels gctx, or the outer ctx (SIGINT/SIGTERM) is cancelled and
	// gctx, derived from it, follows. Selecting on ctx.Done() as well only
	// lets the shutdown be logged before the drain is awaited.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, draining consumers")
		err = <-done
	case err = <-done:
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("worker pool stopped with error", "error", err)
		return err
	}
	a.logger.Info("worker stopped")
	return nil
}

// consume long-polls the WorkQueue and feeds deliveries to the pipeline
// one at a time, until ctx is cancelled or the queue fails in a way that
// cannot be a transient hiccup.
func (a *WorkerApp) consume(ctx context.Context, workerID int) error {
	name := fmt.Sprintf("worker-%d", workerID)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delivery, ok, err := a.queue.Receive(ctx, a.cfg.Worker.ReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apperrors.IsCode(err, apperrors.CodePermanentUpstream) {
				a.logger.Error("receive failed permanently, stopping worker", "worker", name, "error", err)
				return err
			}
			a.logger.Error("receive failed", "worker", name, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		a.handleDelivery(ctx, name, delivery)
	}
}

func (a *WorkerApp) handleDelivery(ctx context.Context, worker string, delivery ingest.Delivery) {
	err := a.processWithRecovery(ctx, delivery)
	if err != nil {
		a.logger.Warn("message processing failed, releasing for redelivery",
			"worker", worker, "task_id", delivery.Message.TaskID, "error", err)
		if releaseErr := a.queue.Release(ctx, delivery.DeliveryID); releaseErr != nil {
			a.logger.Error("release failed", "worker", worker, "delivery_id", delivery.DeliveryID, "error", releaseErr)
		}
		return
	}
	if ackErr := a.queue.Ack(ctx, delivery.DeliveryID); ackErr != nil {
		a.logger.Error("ack failed", "worker", worker, "delivery_id", delivery.DeliveryID, "error", ackErr)
	}
}

// processWithRecovery guards against a panic inside Pipeline.ProcessMessage
// turning into a crashed worker goroutine; a panic is treated as a failed
// message and released back to the queue.
func (a *WorkerApp) processWithRecovery(ctx context.Context, delivery ingest.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Wrap(apperrors.CodeInternalInvariantViolation,
				fmt.Sprintf("panic processing task %s", delivery.Message.TaskID), fmt.Errorf("%v", r))
		}
	}()
	return a.pipeline.ProcessMessage(ctx, delivery.Message)
}
