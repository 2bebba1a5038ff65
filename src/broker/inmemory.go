package broker

import (
	"context"
	"sync"
	"time"
)

// PublishHook runs before a message is appended; a non-nil error rejects it.
type PublishHook func(ctx context.Context, topic, key string, value []byte) error

// InMemoryBroker is an in-process Broker backed by one append-only log per
// topic. Each topic behaves like a single partition: consumer groups keep a
// committed offset and only one Consume call per group reads at a time.
type InMemoryBroker struct {
	mu        sync.Mutex
	logs      map[string][]Message
	committed map[string]int64
	groups    map[string]*sync.Mutex
	changed   chan struct{}
	hook      PublishHook
	closed    bool
	done      chan struct{}
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		logs:      make(map[string][]Message),
		committed: make(map[string]int64),
		groups:    make(map[string]*sync.Mutex),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetPublishHook installs fn to intercept every Publish. Pass nil to remove it.
func (b *InMemoryBroker) SetPublishHook(fn PublishHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// Publish appends a message to the topic log.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	hook := b.hook
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(ctx, topic, key, value); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	log := b.logs[topic]
	b.logs[topic] = append(log, Message{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Offset:    int64(len(log)),
		Timestamp: time.Now().UnixMilli(),
	})

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// Messages returns a copy of everything published to topic.
func (b *InMemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, len(b.logs[topic]))
	copy(out, b.logs[topic])
	return out
}

// Committed returns the next offset groupID will read from topic.
func (b *InMemoryBroker) Committed(topic, groupID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[groupKey(topic, groupID)]
}

// next returns the message at the group's committed offset, or a channel
// that is closed when the log grows.
func (b *InMemoryBroker) next(topic, groupID string) (Message, bool, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Message{}, false, nil, ErrClosed
	}

	offset := b.committed[groupKey(topic, groupID)]
	if log := b.logs[topic]; offset < int64(len(log)) {
		return log[offset], true, nil, nil
	}
	return Message{}, false, b.changed, nil
}

func (b *InMemoryBroker) commit(topic, groupID string, offset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := groupKey(topic, groupID)
	if offset+1 > b.committed[key] {
		b.committed[key] = offset + 1
	}
}

func (b *InMemoryBroker) groupLock(topic, groupID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := groupKey(topic, groupID)
	if _, ok := b.groups[key]; !ok {
		b.groups[key] = &sync.Mutex{}
	}
	return b.groups[key]
}

// Consume implements the Broker interface.
func (b *InMemoryBroker) Consume(ctx context.Context, topic string, groupID string, handler Handler) error {
	lock := b.groupLock(topic, groupID)
	lock.Lock()
	defer lock.Unlock()

	for {
		msg, ok, wait, err := b.next(topic, groupID)
		if err != nil {
			return err
		}

		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.done:
				return ErrClosed
			case <-wait:
				continue
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, msg); err != nil {
			return err
		}
		b.commit(topic, groupID, msg.Offset)
	}
}

// Close stops every consumer. Published messages stay readable via Messages.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}

func groupKey(topic, groupID string) string {
	return topic + "\x00" + groupID
}
