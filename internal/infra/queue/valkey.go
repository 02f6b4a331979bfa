package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
	apperrors "github.com/ahmedafzal98/pdf-rag-api/pkg/errors"
)

// ValkeyQueue implements WorkQueue with visibility-timeout redelivery using
// two sorted sets (ready, inflight) and a hash of message payloads keyed by
// delivery id. A claimed delivery moves from ready to inflight with a score
// equal to its visibility deadline; Receive first reclaims any inflight
// entries whose deadline has passed back onto ready before popping.
type ValkeyQueue struct {
	client     valkey.Client
	prefix     string
	visibility time.Duration
	logger     *slog.Logger
}

// NewValkeyQueue constructs a ValkeyQueue.
func NewValkeyQueue(client valkey.Client, prefix string, visibilityTimeout time.Duration, logger *slog.Logger) *ValkeyQueue {
	if prefix == "" {
		prefix = "pdfrag:queue"
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ValkeyQueue{client: client, prefix: prefix, visibility: visibilityTimeout, logger: logger.With("component", "queue.valkey")}
}

func (q *ValkeyQueue) readyKey() string    { return q.prefix + ":ready" }
func (q *ValkeyQueue) inflightKey() string { return q.prefix + ":inflight" }
func (q *ValkeyQueue) messagesKey() string { return q.prefix + ":messages" }

func (q *ValkeyQueue) Enqueue(ctx context.Context, msg ingest.Message) error {
	deliveryID := uuid.NewString()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := q.client.Do(ctx, q.client.B().Hset().Key(q.messagesKey()).
		FieldValue().FieldValue(deliveryID, string(payload)).Build()).Error(); err != nil {
		return err
	}
	return q.client.Do(ctx, q.client.B().Zadd().Key(q.readyKey()).
		ScoreMember().ScoreMember(float64(time.Now().UnixMilli()), deliveryID).Build()).Error()
}

func (q *ValkeyQueue) Receive(ctx context.Context, waitFor time.Duration) (ingest.Delivery, bool, error) {
	deadline := time.Now().Add(waitFor)
	for {
		if err := q.reclaimExpired(ctx); err != nil {
			q.logger.Warn("reclaim expired deliveries failed", "error", err)
		}

		nowMillis := float64(time.Now().UnixMilli())
		resp := q.client.Do(ctx, q.client.B().Zrangebyscore().Key(q.readyKey()).
			Min("-inf").Max(fmt.Sprintf("%f", nowMillis)).Limit(0, 1).Build())
		ids, err := resp.AsStrSlice()
		if err != nil {
			// A failed poll against the broker itself (not a missing key) means
			// the connection is down; that is not something this call's own
			// retry loop can wait out, so it is surfaced as permanent and left
			// to the caller's worker-pool supervision to act on.
			return ingest.Delivery{}, false, apperrors.Wrap(apperrors.CodePermanentUpstream, "valkey queue unreachable", err)
		}
		if len(ids) > 0 {
			deliveryID := ids[0]
			removed, err := q.client.Do(ctx, q.client.B().Zrem().Key(q.readyKey()).Member(deliveryID).Build()).ToInt64()
			if err != nil {
				return ingest.Delivery{}, false, err
			}
			if removed == 0 {
				// another consumer claimed it between ZRANGEBYSCORE and ZREM.
				continue
			}
			payload, err := q.client.Do(ctx, q.client.B().Hget().Key(q.messagesKey()).Field(deliveryID).Build()).ToString()
			if err != nil {
				return ingest.Delivery{}, false, err
			}
			var msg ingest.Message
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				return ingest.Delivery{}, false, err
			}
			visibleAt := time.Now().Add(q.visibility).UnixMilli()
			if err := q.client.Do(ctx, q.client.B().Zadd().Key(q.inflightKey()).
				ScoreMember().ScoreMember(float64(visibleAt), deliveryID).Build()).Error(); err != nil {
				return ingest.Delivery{}, false, err
			}
			return ingest.Delivery{DeliveryID: deliveryID, Message: msg}, true, nil
		}

		if time.Now().After(deadline) {
			return ingest.Delivery{}, false, nil
		}
		select {
		case <-ctx.Done():
			return ingest.Delivery{}, false, ctx.Err()
		case <-time.After(minDuration(200*time.Millisecond, time.Until(deadline))):
		}
	}
}

func (q *ValkeyQueue) reclaimExpired(ctx context.Context) error {
	nowMillis := fmt.Sprintf("%f", float64(time.Now().UnixMilli()))
	resp := q.client.Do(ctx, q.client.B().Zrangebyscore().Key(q.inflightKey()).
		Min("-inf").Max(nowMillis).Build())
	expired, err := resp.AsStrSlice()
	if err != nil {
		return err
	}
	for _, deliveryID := range expired {
		removed, err := q.client.Do(ctx, q.client.B().Zrem().Key(q.inflightKey()).Member(deliveryID).Build()).ToInt64()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.Do(ctx, q.client.B().Zadd().Key(q.readyKey()).
			ScoreMember().ScoreMember(float64(time.Now().UnixMilli()), deliveryID).Build()).Error(); err != nil {
			return err
		}
	}
	return nil
}

func (q *ValkeyQueue) Ack(ctx context.Context, deliveryID string) error {
	if err := q.client.Do(ctx, q.client.B().Zrem().Key(q.inflightKey()).Member(deliveryID).Build()).Error(); err != nil {
		return err
	}
	return q.client.Do(ctx, q.client.B().Hdel().Key(q.messagesKey()).Field(deliveryID).Build()).Error()
}

func (q *ValkeyQueue) Release(ctx context.Context, deliveryID string) error {
	if err := q.client.Do(ctx, q.client.B().Zrem().Key(q.inflightKey()).Member(deliveryID).Build()).Error(); err != nil {
		return err
	}
	return q.client.Do(ctx, q.client.B().Zadd().Key(q.readyKey()).
		ScoreMember().ScoreMember(float64(time.Now().UnixMilli()), deliveryID).Build()).Error()
}

var _ ingest.WorkQueue = (*ValkeyQueue)(nil)
