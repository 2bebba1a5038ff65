// Package jobs carries deferred publish work items over a broker topic.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoice-ingest/src/broker"
	"invoice-ingest/src/contracts"
	"invoice-ingest/src/logger"
)

// WorkItem asks the worker to publish one staged batch.
// Published to: invoice.ingest.jobs
// Key: {batch_id}
type WorkItem struct {
	BatchID    string    `json:"batch_id"`
	StagingKey string    `json:"staging_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes one work item. Returning nil acknowledges it.
type Handler func(ctx context.Context, item WorkItem) error

// Queue is a durable at-least-once work queue.
type Queue interface {
	// Enqueue durably records item. Errors wrap contracts.ErrEnqueue.
	Enqueue(ctx context.Context, item WorkItem) error

	// Consume delivers items to handler until ctx is done or handler fails.
	// An item is acknowledged only after handler returned nil for it.
	Consume(ctx context.Context, handler Handler) error
}

// BrokerQueue is a Queue on a broker topic read by one consumer group.
type BrokerQueue struct {
	broker broker.Broker
	topic  string
	group  string
	log    logger.Logger
}

// NewBrokerQueue creates a queue on topic consumed by group.
func NewBrokerQueue(b broker.Broker, topic, group string, log logger.Logger) *BrokerQueue {
	if topic == "" {
		topic = contracts.TopicIngestJobs
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &BrokerQueue{
		broker: b,
		topic:  topic,
		group:  group,
		log:    logger.WithComponent(log, "jobs"),
	}
}

// Topic returns the topic holding work items.
func (q *BrokerQueue) Topic() string {
	return q.topic
}

// Enqueue implements Queue.
func (q *BrokerQueue) Enqueue(ctx context.Context, item WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return errors.Join(contracts.ErrEnqueue, fmt.Errorf("failed to encode work item: %w", err))
	}

	if err := q.broker.Publish(ctx, q.topic, item.BatchID, data); err != nil {
		return errors.Join(contracts.ErrEnqueue, err)
	}
	return nil
}

// Consume implements Queue. Messages that are not work items are logged and
// acknowledged so they cannot block the queue.
func (q *BrokerQueue) Consume(ctx context.Context, handler Handler) error {
	return q.broker.Consume(ctx, q.topic, q.group, func(ctx context.Context, msg broker.Message) error {
		var item WorkItem
		if err := json.Unmarshal(msg.Value, &item); err != nil || item.StagingKey == "" {
			q.log.Error("work_item_malformed",
				logger.F("offset", msg.Offset),
				logger.F("partition", msg.Partition),
				logger.F("key", msg.Key),
				logger.F("error_message", fmt.Sprint(err)),
			)
			return nil
		}
		return handler(ctx, item)
	})
}
