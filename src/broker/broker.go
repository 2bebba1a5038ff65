// Package broker defines the interface for message brokers and provides implementations.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker is closed")

// Broker abstracts message publishing and consumption.
// This interface supports both in-memory and distributed (Redpanda/Kafka) implementations.
type Broker interface {
	// Publish sends a message to a topic and returns once the broker has
	// acknowledged it or ctx is done. key selects the partition.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Consume feeds messages of topic to handler one at a time and commits a
	// message's offset for groupID only after handler returned nil for it.
	// A handler error stops consumption without committing, so the message
	// is delivered again to the next consumer of the group.
	// Consume blocks until ctx is done or handler fails.
	Consume(ctx context.Context, topic string, groupID string, handler Handler) error

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Handler processes one consumed message.
type Handler func(ctx context.Context, msg Message) error

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}
