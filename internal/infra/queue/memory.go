// Package queue provides WorkQueue implementations: an in-memory fake for
// tests and a Valkey-backed queue for production, both with
// visibility-timeout redelivery semantics.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

type inFlightMsg struct {
	msg       ingest.Message
	visibleAt time.Time
}

// MemoryQueue is an in-memory WorkQueue. Release and visibility-timeout
// expiry both make a message eligible for redelivery, simulating the
// at-least-once behaviour exercised in tests.
type MemoryQueue struct {
	mu              sync.Mutex
	ready           []ingest.Message
	inFlight        map[string]inFlightMsg
	visibilityTimer time.Duration
	cond            *sync.Cond
}

// NewMemoryQueue constructs an empty MemoryQueue with the given visibility
// timeout applied to claimed-but-unacked deliveries.
func NewMemoryQueue(visibilityTimeout time.Duration) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	q := &MemoryQueue{
		inFlight:        make(map[string]inFlightMsg),
		visibilityTimer: visibilityTimeout,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg ingest.Message) error {
	q.mu.Lock()
	q.ready = append(q.ready, msg)
	q.mu.Unlock()
	q.cond.Broadcast()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, waitFor time.Duration) (ingest.Delivery, bool, error) {
	deadline := time.Now().Add(waitFor)
	for {
		q.mu.Lock()
		q.reclaimExpiredLocked()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			deliveryID := uuid.NewString()
			q.inFlight[deliveryID] = inFlightMsg{msg: msg, visibleAt: time.Now().Add(q.visibilityTimer)}
			q.mu.Unlock()
			return ingest.Delivery{DeliveryID: deliveryID, Message: msg}, true, nil
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return ingest.Delivery{}, false, nil
		}
		select {
		case <-ctx.Done():
			return ingest.Delivery{}, false, ctx.Err()
		case <-time.After(minDuration(50*time.Millisecond, time.Until(deadline))):
		}
	}
}

func (q *MemoryQueue) reclaimExpiredLocked() {
	now := time.Now()
	for id, inf := range q.inFlight {
		if now.After(inf.visibleAt) {
			delete(q.inFlight, id)
			q.ready = append(q.ready, inf.msg)
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, deliveryID)
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	inf, ok := q.inFlight[deliveryID]
	if !ok {
		return nil
	}
	delete(q.inFlight, deliveryID)
	q.ready = append(q.ready, inf.msg)
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	if b < 0 {
		return a
	}
	return b
}

var _ ingest.WorkQueue = (*MemoryQueue)(nil)
