// Package broker provides Redpanda/Kafka broker implementation.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// Options configures a RedpandaBroker beyond its seed brokers.
type Options struct {
	// SASL enables SASL/PLAIN authentication when Username is set.
	Username string
	Password string

	// TLS enables TLS with the system roots.
	TLS bool

	// Logger receives franz-go client logs. Optional.
	Logger kgo.Logger

	// AutoCreateTopics lets the client create missing topics.
	AutoCreateTopics bool
}

func (o Options) mechanism() sasl.Mechanism {
	if o.Username == "" {
		return nil
	}
	return plain.Auth{User: o.Username, Pass: o.Password}.AsMechanism()
}

// clientOpts builds the options shared by the producer and consumer clients.
func (o Options) clientOpts(brokers []string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
	}
	if o.AutoCreateTopics {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	if m := o.mechanism(); m != nil {
		opts = append(opts, kgo.SASL(m))
	}
	if o.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if o.Logger != nil {
		opts = append(opts, kgo.WithLogger(o.Logger))
	}
	return opts
}

// RedpandaBroker is a Kafka-compatible broker implementation using franz-go.
type RedpandaBroker struct {
	client    *kgo.Client
	brokers   []string
	opts      Options
	mu        sync.RWMutex
	consumers map[string]*kgo.Client // topic+groupID -> consumer client
	closed    bool
}

// NewRedpandaBroker creates a new RedpandaBroker instance.
// brokers is a slice of broker addresses (e.g., ["localhost:19092"]).
func NewRedpandaBroker(brokers []string, opts Options) (*RedpandaBroker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	// Every record is acknowledged by all in-sync replicas before ProduceSync returns.
	producerOpts := append(opts.clientOpts(brokers),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)

	client, err := kgo.NewClient(producerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &RedpandaBroker{
		client:    client,
		brokers:   brokers,
		opts:      opts,
		consumers: make(map[string]*kgo.Client),
		closed:    false,
	}, nil
}

// Ping checks that at least one seed broker answers.
func (b *RedpandaBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Publish sends a message to a topic with the specified key.
// Implements the Broker interface.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	results := b.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

func (b *RedpandaBroker) newConsumer(topic, groupID string, extra ...kgo.Opt) (*kgo.Client, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, "", ErrClosed
	}

	consumerKey := fmt.Sprintf("%s:%s", topic, groupID)

	// Check if consumer already exists
	if _, exists := b.consumers[consumerKey]; exists {
		return nil, "", fmt.Errorf("consumer already exists for topic %s and group %s", topic, groupID)
	}

	opts := append(b.opts.clientOpts(b.brokers),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()), // Start from beginning
	)
	consumer, err := kgo.NewClient(append(opts, extra...)...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create consumer: %w", err)
	}

	b.consumers[consumerKey] = consumer
	return consumer, consumerKey, nil
}

func (b *RedpandaBroker) releaseConsumer(consumerKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if consumer, ok := b.consumers[consumerKey]; ok {
		consumer.Close()
		delete(b.consumers, consumerKey)
	}
}

// fetchErrorBackoff is the pause after a poll that returned only errors.
const fetchErrorBackoff = 250 * time.Millisecond

// recordCommitter commits the offsets of handled records.
type recordCommitter interface {
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Consume implements manual-commit consumption for at-least-once processing.
func (b *RedpandaBroker) Consume(ctx context.Context, topic string, groupID string, handler Handler) error {
	consumer, consumerKey, err := b.newConsumer(topic, groupID,
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return err
	}
	defer b.releaseConsumer(consumerKey)

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			consumer.AllowRebalance()
			return ctx.Err()
		}

		err := b.handleFetches(ctx, fetches, consumer, handler)
		consumer.AllowRebalance()

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if fetches.NumRecords() == 0 && len(fetches.Errors()) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchErrorBackoff):
			}
		}
	}
}

// handleFetches passes every record of fetches to handler and commits each
// one after handler returns nil for it. A partition error is logged and does
// not hold back records other partitions returned in the same poll.
func (b *RedpandaBroker) handleFetches(ctx context.Context, fetches kgo.Fetches, committer recordCommitter, handler Handler) error {
	fetches.EachError(func(topic string, partition int32, err error) {
		b.logf(kgo.LogLevelWarn, "fetch failed", "topic", topic, "partition", partition, "err", err)
	})

	var handlerErr error
	fetches.EachRecord(func(record *kgo.Record) {
		if handlerErr != nil {
			return
		}
		if err := handler(ctx, toMessage(record)); err != nil {
			handlerErr = err
			return
		}
		if err := committer.CommitRecords(context.WithoutCancel(ctx), record); err != nil {
			handlerErr = fmt.Errorf("failed to commit offset %d: %w", record.Offset, err)
		}
	})
	return handlerErr
}

func (b *RedpandaBroker) logf(level kgo.LogLevel, msg string, keyvals ...any) {
	if b.opts.Logger == nil || b.opts.Logger.Level() < level {
		return
	}
	b.opts.Logger.Log(level, msg, keyvals...)
}

func toMessage(record *kgo.Record) Message {
	return Message{
		Topic:     record.Topic,
		Key:       string(record.Key),
		Value:     record.Value,
		Offset:    record.Offset,
		Partition: record.Partition,
		Timestamp: record.Timestamp.UnixMilli(),
	}
}

// Close shuts down the broker and all consumer connections.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	// Close all consumers
	for _, consumer := range b.consumers {
		consumer.Close()
	}
	b.consumers = make(map[string]*kgo.Client)

	// Close producer client
	b.client.Close()

	return nil
}
