package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-ingest/src/broker"
	"invoice-ingest/src/contracts"
	"invoice-ingest/src/logger"
)

func TestBrokerQueue_EnqueueConsume(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()
	q := NewBrokerQueue(b, "", "workers", nil)
	assert.Equal(t, contracts.TopicIngestJobs, q.Topic())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	item := WorkItem{
		BatchID:    "2f6e2d0a-6a9f-4d2b-9c77-2b7f0a1c9e11",
		StagingKey: "invoice-batch:2f6e2d0a-6a9f-4d2b-9c77-2b7f0a1c9e11",
		EnqueuedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, q.Enqueue(ctx, item))

	msgs := b.Messages(contracts.TopicIngestJobs)
	require.Len(t, msgs, 1)
	assert.Equal(t, item.BatchID, msgs[0].Key)

	var got WorkItem
	err := q.Consume(ctx, func(ctx context.Context, wi WorkItem) error {
		got = wi
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, item.StagingKey, got.StagingKey)
	assert.True(t, item.EnqueuedAt.Equal(got.EnqueuedAt))
	assert.Equal(t, int64(1), b.Committed(contracts.TopicIngestJobs, "workers"))
}

func TestBrokerQueue_HandlerErrorLeavesItemQueued(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()
	q := NewBrokerQueue(b, "jobs", "workers", nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, WorkItem{BatchID: "b", StagingKey: "invoice-batch:b"}))

	boom := errors.New("crash")
	err := q.Consume(ctx, func(ctx context.Context, wi WorkItem) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), b.Committed("jobs", "workers"))
}

func TestBrokerQueue_EnqueueFailure(t *testing.T) {
	b := broker.NewInMemoryBroker()
	b.Close()
	q := NewBrokerQueue(b, "jobs", "workers", nil)

	err := q.Enqueue(context.Background(), WorkItem{BatchID: "b", StagingKey: "k"})
	assert.ErrorIs(t, err, contracts.ErrEnqueue)
	assert.ErrorIs(t, err, broker.ErrClosed)
}

func TestBrokerQueue_SkipsMalformedMessages(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()
	rec := logger.NewRecorder()
	q := NewBrokerQueue(b, "jobs", "workers", rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "jobs", "x", []byte("not json")))
	require.NoError(t, b.Publish(ctx, "jobs", "y", []byte(`{"batch_id":"y"}`)))
	require.NoError(t, q.Enqueue(ctx, WorkItem{BatchID: "z", StagingKey: "invoice-batch:z"}))

	var handled []string
	err := q.Consume(ctx, func(ctx context.Context, wi WorkItem) error {
		handled = append(handled, wi.BatchID)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"z"}, handled)

	var malformed int
	for _, e := range rec.Entries() {
		if e.Message == "work_item_malformed" {
			malformed++
		}
	}
	assert.Equal(t, 2, malformed)
}
