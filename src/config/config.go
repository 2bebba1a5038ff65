// Package config provides configuration management for the ingestion service.
//
// Configuration is read from the environment once at process start (a .env
// file in the working directory is honoured) and is not modified afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"invoice-ingest/src/contracts"
)

// DeliveryMode selects how accepted batches reach the broker.
type DeliveryMode string

const (
	// DeliverySync publishes during the request and compensates on failure.
	DeliverySync DeliveryMode = "sync"

	// DeliveryDeferred stages, enqueues a work item and answers immediately.
	DeliveryDeferred DeliveryMode = "deferred"
)

// Staging drivers.
const (
	StagingMemory   = "memory"
	StagingPostgres = "postgres"
	StagingSQLite   = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	// APIKey is the shared secret callers present in the X-Ingest-Key header.
	APIKey string
	// PayloadTTLMinutes bounds how long a staged payload survives without eviction.
	PayloadTTLMinutes int
	// MaxBatchSize is the largest number of invoices accepted in one batch.
	MaxBatchSize int
	DeliveryMode DeliveryMode

	KafkaBrokers    []string
	IngestTopic     string
	FlushTimeoutMS  int
	JobsTopic       string
	DeadLetterTopic string
	WorkerGroup     string
	SASLUsername    string
	SASLPassword    string
	KafkaTLS        bool

	StagingDriver string
	StagingDSN    string

	WorkerMaxAttempts int
	WorkerBackoffMS   int

	// RateLimitPerMinute caps ingestion requests per client IP. Zero disables it.
	RateLimitPerMinute int

	HTTPAddr    string
	ServiceName string
	Environment string
	LogLevel    string
	LogFormat   string
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	var errs []error
	intVar := func(name string, def int) int {
		v, err := envInt(name, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		APIKey:            os.Getenv("INGEST_API_KEY"),
		PayloadTTLMinutes: intVar("INGEST_PAYLOAD_TTL_MINUTES", 10),
		MaxBatchSize:      intVar("INGEST_MAX_BATCH_SIZE", 40000),
		DeliveryMode:      DeliveryMode(strings.ToLower(envString("INGEST_DELIVERY_MODE", string(DeliverySync)))),

		KafkaBrokers:    splitList(envString("KAFKA_BROKERS", "127.0.0.1:9092")),
		IngestTopic:     envString("KAFKA_INGEST_TOPIC", contracts.TopicInvoiceIngest),
		FlushTimeoutMS:  intVar("KAFKA_FLUSH_TIMEOUT_MS", 1000),
		JobsTopic:       envString("KAFKA_JOBS_TOPIC", contracts.TopicIngestJobs),
		DeadLetterTopic: envString("KAFKA_DEAD_LETTER_TOPIC", contracts.TopicDeadLetter),
		WorkerGroup:     envString("KAFKA_WORKER_GROUP", "invoice-ingest-worker"),
		SASLUsername:    os.Getenv("KAFKA_SASL_USERNAME"),
		SASLPassword:    os.Getenv("KAFKA_SASL_PASSWORD"),

		StagingDriver: strings.ToLower(envString("STAGING_DRIVER", StagingMemory)),
		StagingDSN:    os.Getenv("STAGING_DSN"),

		WorkerMaxAttempts: intVar("WORKER_MAX_ATTEMPTS", 5),
		WorkerBackoffMS:   intVar("WORKER_BACKOFF_MS", 500),

		RateLimitPerMinute: intVar("INGEST_RATE_LIMIT_PER_MINUTE", 60),

		HTTPAddr:    envString("HTTP_ADDR", ":8080"),
		ServiceName: envString("APP_NAME", "invoice-ingest"),
		Environment: envString("APP_ENV", "production"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		LogFormat:   strings.ToLower(envString("LOG_FORMAT", "json")),
	}

	tls, err := envBool("KAFKA_TLS", false)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.KafkaTLS = tls

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, errors.New("INGEST_API_KEY environment variable is required"))
	}
	if c.PayloadTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_PAYLOAD_TTL_MINUTES must be positive, got %d", c.PayloadTTLMinutes))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_MAX_BATCH_SIZE must be positive, got %d", c.MaxBatchSize))
	}
	if c.DeliveryMode != DeliverySync && c.DeliveryMode != DeliveryDeferred {
		errs = append(errs, fmt.Errorf("INGEST_DELIVERY_MODE must be %q or %q, got %q", DeliverySync, DeliveryDeferred, c.DeliveryMode))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if c.IngestTopic == "" {
		errs = append(errs, errors.New("KAFKA_INGEST_TOPIC must not be empty"))
	}
	if c.FlushTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("KAFKA_FLUSH_TIMEOUT_MS must be positive, got %d", c.FlushTimeoutMS))
	}
	if (c.SASLUsername == "") != (c.SASLPassword == "") {
		errs = append(errs, errors.New("KAFKA_SASL_USERNAME and KAFKA_SASL_PASSWORD must be set together"))
	}

	switch c.StagingDriver {
	case StagingMemory:
	case StagingPostgres, StagingSQLite:
		if c.StagingDSN == "" {
			errs = append(errs, fmt.Errorf("STAGING_DSN is required for staging driver %q", c.StagingDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STAGING_DRIVER %q", c.StagingDriver))
	}

	if c.WorkerMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive, got %d", c.WorkerMaxAttempts))
	}
	if c.WorkerBackoffMS < 0 {
		errs = append(errs, fmt.Errorf("WORKER_BACKOFF_MS must not be negative, got %d", c.WorkerBackoffMS))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("INGEST_RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMinute))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// PayloadTTL is the staging TTL as a duration.
func (c *Config) PayloadTTL() time.Duration {
	return time.Duration(c.PayloadTTLMinutes) * time.Minute
}

// FlushTimeout is the bounded wait for a broker acknowledgment.
func (c *Config) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMS) * time.Millisecond
}

// WorkerBackoff is the delay before the first worker retry.
func (c *Config) WorkerBackoff() time.Duration {
	return time.Duration(c.WorkerBackoffMS) * time.Millisecond
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func envBool(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
