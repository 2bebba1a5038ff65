// Package gateway accepts invoice batches: it authenticates the caller,
// validates the body, assigns a batch id, stages the payload and then either
// publishes it synchronously or hands it to the deferred worker.
//
// A batch whose publish fails is evicted from staging before the error is
// returned, so a rejected batch never lingers until its TTL.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoice-ingest/src/batchid"
	"invoice-ingest/src/config"
	"invoice-ingest/src/contracts"
	"invoice-ingest/src/jobs"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/validation"
)

// DeferredMessage is returned to callers whose batch was queued.
const DeferredMessage = "Batch received and queued for processing."

// Stager stages payloads between acceptance and confirmed publish.
type Stager interface {
	Stage(ctx context.Context, batch contracts.InvoiceBatch) (string, error)
	Forget(ctx context.Context, key string) error
}

// Publisher publishes an accepted batch.
type Publisher interface {
	Publish(ctx context.Context, batch contracts.InvoiceBatch) error
}

// Enqueuer records deferred work.
type Enqueuer interface {
	Enqueue(ctx context.Context, item jobs.WorkItem) error
}

// Request is one ingestion call.
type Request struct {
	// Secret is the value of the X-Ingest-Key header, empty when absent.
	Secret string
	Body   []byte
}

// Result describes an accepted batch.
type Result struct {
	BatchID  batchid.ID
	Status   string
	Message  string
	Deferred bool
}

// Options configures a Gateway.
type Options struct {
	APIKey       string
	MaxBatchSize int
	Mode         config.DeliveryMode
}

// Gateway is safe for concurrent use.
type Gateway struct {
	opts      Options
	stager    Stager
	publisher Publisher
	queue     Enqueuer
	ids       batchid.Generator
	now       func() time.Time
	log       logger.Logger
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithIDGenerator replaces the random batch id source.
func WithIDGenerator(g batchid.Generator) Option {
	return func(gw *Gateway) { gw.ids = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(gw *Gateway) { gw.now = now }
}

// New creates a Gateway. publisher is required in sync mode and queue in
// deferred mode.
func New(opts Options, stager Stager, publisher Publisher, queue Enqueuer, log logger.Logger, options ...Option) (*Gateway, error) {
	if opts.Mode == "" {
		opts.Mode = config.DeliverySync
	}
	if stager == nil {
		return nil, errors.New("gateway requires a staging store")
	}
	switch opts.Mode {
	case config.DeliverySync:
		if publisher == nil {
			return nil, errors.New("sync delivery requires a publisher")
		}
	case config.DeliveryDeferred:
		if queue == nil {
			return nil, errors.New("deferred delivery requires a work queue")
		}
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", opts.Mode)
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	gw := &Gateway{
		opts:      opts,
		stager:    stager,
		publisher: publisher,
		queue:     queue,
		ids:       batchid.Random,
		now:       time.Now,
		log:       logger.WithComponent(log, "gateway"),
	}
	for _, o := range options {
		o(gw)
	}
	return gw, nil
}

// Mode returns the delivery mode.
func (g *Gateway) Mode() config.DeliveryMode {
	return g.opts.Mode
}

// Accept runs one ingestion. Authentication and validation failures return
// before any id is generated or anything is staged.
func (g *Gateway) Accept(ctx context.Context, req Request) (Result, error) {
	if err := validation.Authenticate(g.opts.APIKey, req.Secret); err != nil {
		g.log.Warn("invoice_batch_rejected",
			logger.F("error_type", contracts.ErrorType(err)),
		)
		return Result{}, err
	}

	payload, err := validation.DecodeBatch(req.Body, g.opts.MaxBatchSize)
	if err != nil {
		g.log.Info("invoice_batch_rejected",
			logger.F("error_type", contracts.ErrorType(err)),
			logger.F("error_message", err.Error()),
		)
		return Result{}, err
	}

	id, err := g.ids.New()
	if err != nil {
		g.log.Error("batch_id_generation_failed", logger.F("error_message", err.Error()))
		return Result{}, fmt.Errorf("failed to generate batch id: %w", err)
	}

	batch := contracts.NewInvoiceBatch(id, payload, g.now())
	log := logger.WithBatchID(g.log, id.String())

	key, err := g.stager.Stage(ctx, batch)
	if err != nil {
		log.Error("invoice_batch_staging_failed",
			logger.F("error_type", contracts.ErrorType(err)),
			logger.F("error_message", err.Error()),
		)
		return Result{}, err
	}

	if g.opts.Mode == config.DeliveryDeferred {
		return g.enqueue(ctx, log, batch, key)
	}
	return g.publish(ctx, log, batch, key)
}

func (g *Gateway) publish(ctx context.Context, log logger.Logger, batch contracts.InvoiceBatch, key string) (Result, error) {
	if err := g.publisher.Publish(ctx, batch); err != nil {
		g.evict(ctx, log, key)
		log.Error("invoice_batch_publish_failed",
			logger.F("error_type", contracts.ErrorType(err)),
			logger.F("error_message", err.Error()),
		)
		return Result{}, err
	}

	g.evict(ctx, log, key)
	log.Info("invoice_batch_accepted",
		logger.F("invoice_count", len(batch.Payload.Invoices)),
		logger.F("source", batch.Payload.Source),
		logger.F("delivery_mode", string(config.DeliverySync)),
	)

	return Result{BatchID: batch.BatchID, Status: contracts.StatusAccepted}, nil
}

func (g *Gateway) enqueue(ctx context.Context, log logger.Logger, batch contracts.InvoiceBatch, key string) (Result, error) {
	item := jobs.WorkItem{
		BatchID:    batch.BatchID.String(),
		StagingKey: key,
		EnqueuedAt: g.now().UTC(),
	}

	if err := g.queue.Enqueue(ctx, item); err != nil {
		g.evict(ctx, log, key)
		log.Error("invoice_batch_enqueue_failed",
			logger.F("error_type", contracts.ErrorType(err)),
			logger.F("error_message", err.Error()),
		)
		if !errors.Is(err, contracts.ErrEnqueue) {
			err = errors.Join(contracts.ErrEnqueue, err)
		}
		return Result{}, err
	}

	log.Info("invoice_batch_accepted",
		logger.F("invoice_count", len(batch.Payload.Invoices)),
		logger.F("source", batch.Payload.Source),
		logger.F("delivery_mode", string(config.DeliveryDeferred)),
	)

	return Result{
		BatchID:  batch.BatchID,
		Status:   contracts.StatusAccepted,
		Message:  DeferredMessage,
		Deferred: true,
	}, nil
}

// evict removes a staged entry. The caller may already be gone, so eviction
// does not follow its cancellation. A failed eviction is left to the TTL.
func (g *Gateway) evict(ctx context.Context, log logger.Logger, key string) {
	if err := g.stager.Forget(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("staged_payload_eviction_failed",
			logger.F("staging_key", key),
			logger.F("error_message", err.Error()),
		)
	}
}
