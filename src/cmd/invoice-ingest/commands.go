package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"invoice-ingest/src/config"
	"invoice-ingest/src/logger"
	"invoice-ingest/src/pipeline"
)

// serveCmd runs the HTTP ingestion endpoint
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		withWorker, _ := cmd.Flags().GetBool("with-worker")
		if err := checkServeMode(appConfig, withWorker); err != nil {
			return err
		}

		log := pipeline.NewLogger(appConfig)
		ctx, cancel := signalContext(log)
		defer cancel()

		p, err := pipeline.Build(ctx, appConfig, log, pipeline.Deps{})
		if err != nil {
			return err
		}
		defer p.Close()

		log.Info("service_starting",
			logger.F("delivery_mode", string(appConfig.DeliveryMode)),
			logger.F("staging_driver", appConfig.StagingDriver),
			logger.F("ingest_topic", appConfig.IngestTopic),
		)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return p.Server.Run(ctx, appConfig.HTTPAddr) })
		g.Go(func() error {
			p.RunJanitor(ctx)
			return nil
		})
		if withWorker && appConfig.DeliveryMode == config.DeliveryDeferred {
			g.Go(func() error { return p.Worker.Run(ctx, p.Queue) })
		}

		err = g.Wait()
		log.Info("service_stopped")
		return err
	},
}

// checkServeMode rejects a deferred setup whose work items no process could
// complete: memory staging is private to this process, so the worker has to
// run here too.
func checkServeMode(cfg *config.Config, withWorker bool) error {
	if cfg.DeliveryMode == config.DeliveryDeferred && cfg.StagingDriver == config.StagingMemory && !withWorker {
		return errors.New("deferred delivery with memory staging needs --with-worker, or a shared STAGING_DRIVER (postgres, sqlite) and a separate worker process")
	}
	return nil
}

// workerCmd runs the deferred publish worker
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the deferred publish worker",
	Long: `Consume work items from the jobs topic and publish the staged batches.

The worker must share the staging store with the serve command, so it
needs STAGING_DRIVER=postgres or sqlite when it runs in its own process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := pipeline.NewLogger(appConfig)
		if appConfig.StagingDriver == config.StagingMemory {
			log.Warn("worker_memory_staging",
				logger.F("hint", "the memory store is private to this process"))
		}

		ctx, cancel := signalContext(log)
		defer cancel()

		p, err := pipeline.Build(ctx, appConfig, log, pipeline.Deps{})
		if err != nil {
			return err
		}
		defer p.Close()

		return p.Worker.Run(ctx, p.Queue)
	},
}

// migrateCmd creates the SQL staging schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the SQL staging table",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := pipeline.NewSQLStore(appConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "staging schema ready (%s)\n", st.Dialect())
		return nil
	},
}

// sweepCmd purges expired staged payloads
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired staged payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := pipeline.NewSQLStore(appConfig)
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.Purge(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired staged payloads\n", removed)
		return nil
	},
}
