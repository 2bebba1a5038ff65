// Package main provides the invoice-ingest CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoice-ingest/src/config"
	"invoice-ingest/src/logger"
)

var appConfig *config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "invoice-ingest",
	Short: "Invoice batch ingestion gateway",
	Long: `invoice-ingest accepts invoice batches over HTTP, stages them and
publishes them to a Kafka-compatible broker.

Delivery modes (INGEST_DELIVERY_MODE):
- sync:     publish during the request, compensate on failure (default)
- deferred: stage and enqueue, publish from the worker command

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		appConfig = cfg
		return nil
	},
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(log logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info("shutdown_signal_received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)

	serveCmd.Flags().Bool("with-worker", false, "Also run the deferred publish worker in this process")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
