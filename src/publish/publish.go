// Package publish forwards accepted invoice batches to the ingest topic and
// waits, for a bounded time, for the broker to acknowledge them.
package publish

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/xmidt-org/eventor"

	"invoice-ingest/src/broker"
	"invoice-ingest/src/contracts"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/serializer"
)

// DefaultFlushTimeout bounds the acknowledgment wait when none is configured.
const DefaultFlushTimeout = time.Second

// PublishEvent describes the outcome of one Publish call.
type PublishEvent struct {
	// BatchID is the id of the batch that was published.
	BatchID string

	// Topic is the topic the batch was published to.
	Topic string

	// Error is nil for successful publishes.
	Error error

	// ErrorType is the failure category, empty on success.
	// Values: "serialization_error", "broker_unreachable", "timeout", "broker_error".
	ErrorType string

	// Duration is the time from the Publish call to its outcome.
	Duration time.Duration
}

// Publisher publishes invoice batches through a broker.
//
// Thread Safety: Publish may be called from many goroutines at once; the
// underlying broker client is shared.
type Publisher struct {
	broker  broker.Broker
	topic   string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time

	listeners eventor.Eventor[func(*PublishEvent)]
}

// New creates a Publisher for topic. A non-positive timeout falls back to
// DefaultFlushTimeout and a nil log discards events.
func New(b broker.Broker, topic string, timeout time.Duration, log logger.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	if topic == "" {
		topic = contracts.TopicInvoiceIngest
	}

	return &Publisher{
		broker:  b,
		topic:   topic,
		timeout: timeout,
		log:     logger.WithComponent(log, "publisher"),
		now:     time.Now,
	}
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// AddPublishEventListener registers fn for every publish outcome and returns
// a function that removes it.
func (p *Publisher) AddPublishEventListener(fn func(*PublishEvent)) func() {
	return p.listeners.Add(fn)
}

// Publish serializes batch and sends it keyed by its batch id.
//
// The wait for the acknowledgment is bounded by the flush timeout and does
// not follow cancellation of ctx: once started, a publish runs until it is
// acknowledged, fails, or times out. Returned errors wrap one of
// contracts.ErrSerialization, ErrBrokerUnreachable, ErrTimeout or ErrBroker.
func (p *Publisher) Publish(ctx context.Context, batch contracts.InvoiceBatch) error {
	start := p.now()
	id := batch.BatchID.String()

	data, err := serializer.Serialize(batch)
	if err != nil {
		return p.fail(id, start, err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.broker.Publish(sendCtx, p.topic, id, data); err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return p.fail(id, start, errors.Join(contracts.ErrTimeout, err))
		}
		return p.fail(id, start, Classify(err))
	}

	duration := p.now().Sub(start)
	p.log.Info("kafka_publish_success",
		logger.F("batch_id", id),
		logger.F("topic", p.topic),
		logger.F("duration_ms", duration.Milliseconds()),
	)
	p.emit(&PublishEvent{BatchID: id, Topic: p.topic, Duration: duration})
	return nil
}

func (p *Publisher) fail(id string, start time.Time, err error) error {
	duration := p.now().Sub(start)
	errType := contracts.ErrorType(err)

	p.log.Error("kafka_publish_failure",
		logger.F("batch_id", id),
		logger.F("topic", p.topic),
		logger.F("error_type", errType),
		logger.F("error_message", err.Error()),
		logger.F("duration_ms", duration.Milliseconds()),
	)
	p.emit(&PublishEvent{
		BatchID:   id,
		Topic:     p.topic,
		Error:     err,
		ErrorType: errType,
		Duration:  duration,
	})
	return err
}

func (p *Publisher) emit(event *PublishEvent) {
	p.listeners.Visit(func(listener func(*PublishEvent)) {
		listener(event)
	})
}

// Classify tags a broker error with its failure category. Errors that are
// already categorised are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if contracts.IsPublishFailure(err) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, kgo.ErrRecordTimeout):
		return errors.Join(contracts.ErrTimeout, err)
	case isUnreachable(err):
		return errors.Join(contracts.ErrBrokerUnreachable, err)
	default:
		return errors.Join(contracts.ErrBroker, err)
	}
}

func isUnreachable(err error) bool {
	if errors.Is(err, broker.ErrClosed) || errors.Is(err, kgo.ErrClientClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		return false
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	return errors.As(err, &netErr) || errors.As(err, &dnsErr)
}
