// Package pipeline assembles the ingestion service from configuration.
// The serve, worker and maintenance commands all start from Build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"invoice-ingest/src/broker"
	"invoice-ingest/src/config"
	"invoice-ingest/src/gateway"
	"invoice-ingest/src/httpapi"
	"invoice-ingest/src/jobs"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/publish"
	"invoice-ingest/src/retry"
	"invoice-ingest/src/store"
	"invoice-ingest/src/worker"
)

// Deps overrides the external resources Build would otherwise open.
type Deps struct {
	Broker broker.Broker
	Store  store.Store
}

// Pipeline holds every component of a running service.
type Pipeline struct {
	Config    *config.Config
	Log       logger.Logger
	Broker    broker.Broker
	Store     store.Store
	Repo      *store.PayloadRepository
	Publisher *publish.Publisher
	Queue     *jobs.BrokerQueue
	Gateway   *gateway.Gateway
	Worker    *worker.Worker
	Server    *httpapi.Server
}

// NewLogger builds the logger selected by LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg *config.Config) logger.Logger {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL, using info: %v\n", err)
	}

	if cfg.LogFormat == "console" {
		return logger.NewConsoleLogger(level)
	}
	return logger.NewZapLogger(logger.ZapOptions{
		Service:     cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       level,
	})
}

// NewStore opens the staging store selected by STAGING_DRIVER. SQL stores
// are migrated before they are returned.
func NewStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StagingDriver {
	case config.StagingMemory, "":
		return store.NewMemoryStore(), nil
	case config.StagingPostgres, config.StagingSQLite:
		sqlStore, err := NewSQLStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(ctx); err != nil {
			sqlStore.Close()
			return nil, err
		}
		return sqlStore, nil
	default:
		return nil, fmt.Errorf("unknown staging driver %q", cfg.StagingDriver)
	}
}

// NewSQLStore opens the SQL staging store without migrating it.
func NewSQLStore(cfg *config.Config) (*store.SQLStore, error) {
	switch cfg.StagingDriver {
	case config.StagingPostgres:
		return store.NewPostgresStore(cfg.StagingDSN)
	case config.StagingSQLite:
		return store.NewSQLiteStore(cfg.StagingDSN)
	default:
		return nil, fmt.Errorf("staging driver %q is not a SQL driver", cfg.StagingDriver)
	}
}

// NewBroker connects to the Kafka/Redpanda cluster.
func NewBroker(cfg *config.Config, log logger.Logger) (*broker.RedpandaBroker, error) {
	level, _ := logger.ParseLevel(cfg.LogLevel)

	return broker.NewRedpandaBroker(cfg.KafkaBrokers, broker.Options{
		Username: cfg.SASLUsername,
		Password: cfg.SASLPassword,
		TLS:      cfg.KafkaTLS,
		Logger:   logger.NewKgoLogger(log, logger.KgoLevel(max(level, logger.WarnLevel))),
	})
}

// Build wires the service. Resources missing from deps are opened from cfg.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, deps Deps) (*Pipeline, error) {
	if log == nil {
		log = NewLogger(cfg)
	}

	p := &Pipeline{Config: cfg, Log: log, Broker: deps.Broker, Store: deps.Store}

	if p.Store == nil {
		st, err := NewStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open staging store: %w", err)
		}
		p.Store = st
	}

	if p.Broker == nil {
		brk, err := NewBroker(cfg, log)
		if err != nil {
			p.Store.Close()
			return nil, fmt.Errorf("failed to create broker: %w", err)
		}
		p.Broker = brk
	}

	p.Repo = store.NewPayloadRepository(p.Store, cfg.PayloadTTL())
	p.Publisher = publish.New(p.Broker, cfg.IngestTopic, cfg.FlushTimeout(), log)
	p.Queue = jobs.NewBrokerQueue(p.Broker, cfg.JobsTopic, cfg.WorkerGroup, log)

	gw, err := gateway.New(gateway.Options{
		APIKey:       cfg.APIKey,
		MaxBatchSize: cfg.MaxBatchSize,
		Mode:         cfg.DeliveryMode,
	}, p.Repo, p.Publisher, p.Queue, log)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Gateway = gw

	p.Worker = worker.New(worker.Config{
		Policy: retry.Policy{
			MaxAttempts:    cfg.WorkerMaxAttempts,
			InitialBackoff: cfg.WorkerBackoff(),
		},
		DeadLetterTopic: cfg.DeadLetterTopic,
	}, p.Repo, p.Publisher, p.Broker, log)

	p.Server = httpapi.NewServer(p.Gateway, log, httpapi.WithRateLimit(cfg.RateLimitPerMinute))

	return p, nil
}

// RunJanitor purges expired staged entries every interval until ctx is done.
func (p *Pipeline) RunJanitor(ctx context.Context) {
	interval := p.Config.PayloadTTL() / 2
	store.RunJanitor(ctx, p.Store, interval, func(removed int, err error) {
		if err != nil {
			p.Log.Warn("staging_purge_failed", logger.F("error_message", err.Error()))
			return
		}
		if removed > 0 {
			p.Log.Debug("staging_purged", logger.F("removed", removed))
		}
	})
}

// Close shuts down the pipeline, including resources passed in Deps.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Broker != nil {
		errs = append(errs, p.Broker.Close())
	}
	if p.Store != nil {
		errs = append(errs, p.Store.Close())
	}
	if z, ok := p.Log.(*logger.ZapLogger); ok {
		_ = z.Sync()
	}
	return errors.Join(errs...)
}
