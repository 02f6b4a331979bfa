package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

func TestReceiveThenAckRemovesMessage(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ingest.Message{TaskID: "t1", BlobHandle: "b1", Filename: "a.pdf", UserID: 1}))

	delivery, ok, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t1", delivery.Message.TaskID)

	require.NoError(t, q.Ack(ctx, delivery.DeliveryID))

	_, ok, err = q.Receive(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReleaseMakesMessageImmediatelyRedeliverable(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ingest.Message{TaskID: "t2", BlobHandle: "b2", Filename: "b.pdf", UserID: 1}))

	first, ok, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Release(ctx, first.DeliveryID))

	second, ok, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t2", second.Message.TaskID)
}

func TestVisibilityTimeoutRedeliversUnackedMessage(t *testing.T) {
	q := NewMemoryQueue(30 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, ingest.Message{TaskID: "t3", BlobHandle: "b3", Filename: "c.pdf", UserID: 1}))

	first, ok, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	second, ok, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t3", second.Message.TaskID)
	require.NotEqual(t, first.DeliveryID, second.DeliveryID)
}

func TestReceiveTimesOutWhenQueueEmpty(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()

	_, ok, err := q.Receive(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}
