// Package worker publishes batches that the gateway accepted in deferred mode.
//
// The worker reads a staged payload without removing it, publishes it and
// evicts it only after the broker confirmed the publish. A crash at any point
// leaves the payload staged and the work item unacknowledged, so the item is
// processed again after restart. Duplicate publishes are possible; lost
// batches are not.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoice-ingest/src/contracts"
	"invoice-ingest/src/jobs"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/retry"
)

// Repository reads and evicts staged batches.
type Repository interface {
	Load(ctx context.Context, key string) (contracts.InvoiceBatch, error)
	Forget(ctx context.Context, key string) error
}

// Publisher publishes a batch.
type Publisher interface {
	Publish(ctx context.Context, batch contracts.InvoiceBatch) error
}

// Sink receives dead letters.
type Sink interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// DeadLetter records a work item the worker gave up on.
// Published to: invoice.ingest.v1.dlq
// Key: {batch_id}
type DeadLetter struct {
	BatchID    string    `json:"batch_id"`
	StagingKey string    `json:"staging_key"`
	ErrorType  string    `json:"error_type"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}

// Config configures a Worker.
type Config struct {
	Policy          retry.Policy
	DeadLetterTopic string
}

// Worker processes deferred work items.
type Worker struct {
	repo      Repository
	publisher Publisher
	sink      Sink
	cfg       Config
	log       logger.Logger
	now       func() time.Time
}

// New creates a Worker. A nil sink disables dead-lettering: items that
// cannot be completed are then only logged.
func New(cfg Config, repo Repository, publisher Publisher, sink Sink, log logger.Logger) *Worker {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = contracts.TopicDeadLetter
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		sink:      sink,
		cfg:       cfg,
		log:       logger.WithComponent(log, "worker"),
		now:       time.Now,
	}
}

// Handle makes a single attempt at item.
func (w *Worker) Handle(ctx context.Context, item jobs.WorkItem) error {
	batch, err := w.repo.Load(ctx, item.StagingKey)
	if err != nil {
		return err
	}
	if item.BatchID != "" && batch.BatchID.String() != item.BatchID {
		return errors.Join(contracts.ErrPayloadMissing,
			fmt.Errorf("staged payload %s belongs to batch %s", item.StagingKey, batch.BatchID))
	}

	if err := w.publisher.Publish(ctx, batch); err != nil {
		return err
	}

	log := logger.WithBatchID(w.log, item.BatchID)
	if err := w.repo.Forget(context.WithoutCancel(ctx), item.StagingKey); err != nil {
		log.Warn("staged_payload_eviction_failed",
			logger.F("staging_key", item.StagingKey),
			logger.F("error_message", err.Error()),
		)
	}

	log.Info("invoice_batch_published",
		logger.F("invoice_count", len(batch.Payload.Invoices)),
		logger.F("queued_for_ms", w.now().Sub(item.EnqueuedAt).Milliseconds()),
	)
	return nil
}

// Process retries Handle under the retry policy. Items that fail
// permanently or exhaust their attempts are dead-lettered and acknowledged.
// A non-nil return means the item must be delivered again.
func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	log := logger.WithBatchID(w.log, item.BatchID)

	attempts, err := retry.Do(ctx, w.cfg.Policy, contracts.IsPermanent,
		func(attempt int, wait time.Duration, err error) {
			log.Warn("invoice_batch_publish_retry",
				logger.F("attempt", attempt),
				logger.F("backoff_ms", wait.Milliseconds()),
				logger.F("error_type", contracts.ErrorType(err)),
				logger.F("error_message", err.Error()),
			)
		},
		func(ctx context.Context) error { return w.Handle(ctx, item) },
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err := w.deadLetter(ctx, item, err, attempts); err != nil {
		log.Error("dead_letter_failed", logger.F("error_message", err.Error()))
		return err
	}

	log.Error("invoice_batch_dead_lettered",
		logger.F("attempts", attempts),
		logger.F("error_type", contracts.ErrorType(err)),
		logger.F("error_message", err.Error()),
	)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, item jobs.WorkItem, cause error, attempts int) error {
	if w.sink == nil {
		return nil
	}

	data, err := json.Marshal(DeadLetter{
		BatchID:    item.BatchID,
		StagingKey: item.StagingKey,
		ErrorType:  contracts.ErrorType(cause),
		Error:      cause.Error(),
		Attempts:   attempts,
		FailedAt:   w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	if err := w.sink.Publish(ctx, w.cfg.DeadLetterTopic, item.BatchID, data); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}

// Run processes items from queue until ctx is done. It returns nil on a
// clean shutdown.
func (w *Worker) Run(ctx context.Context, queue jobs.Queue) error {
	w.log.Info("worker_started", logger.F("dead_letter_topic", w.cfg.DeadLetterTopic))

	err := queue.Consume(ctx, w.Process)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		w.log.Info("worker_stopped")
		return nil
	}
	if err != nil {
		w.log.Error("worker_stopped", logger.F("error_message", err.Error()))
	}
	return err
}
