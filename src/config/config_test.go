package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadFromEnv reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"INGEST_API_KEY", "INGEST_PAYLOAD_TTL_MINUTES", "INGEST_MAX_BATCH_SIZE", "INGEST_DELIVERY_MODE",
		"KAFKA_BROKERS", "KAFKA_INGEST_TOPIC", "KAFKA_FLUSH_TIMEOUT_MS", "KAFKA_JOBS_TOPIC",
		"KAFKA_DEAD_LETTER_TOPIC", "KAFKA_WORKER_GROUP", "KAFKA_SASL_USERNAME", "KAFKA_SASL_PASSWORD",
		"KAFKA_TLS", "STAGING_DRIVER", "STAGING_DSN", "WORKER_MAX_ATTEMPTS", "WORKER_BACKOFF_MS",
		"INGEST_RATE_LIMIT_PER_MINUTE", "HTTP_ADDR", "APP_NAME", "APP_ENV", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("INGEST_API_KEY", "secret")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "secret", cfg.APIKey)
		assert.Equal(t, 10*time.Minute, cfg.PayloadTTL())
		assert.Equal(t, 40000, cfg.MaxBatchSize)
		assert.Equal(t, DeliverySync, cfg.DeliveryMode)
		assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, "invoice.ingest.v1", cfg.IngestTopic)
		assert.Equal(t, time.Second, cfg.FlushTimeout())
		assert.Equal(t, "invoice.ingest.jobs", cfg.JobsTopic)
		assert.Equal(t, "invoice.ingest.v1.dlq", cfg.DeadLetterTopic)
		assert.Equal(t, StagingMemory, cfg.StagingDriver)
		assert.Equal(t, 5, cfg.WorkerMaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.WorkerBackoff())
		assert.Equal(t, 60, cfg.RateLimitPerMinute)
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, "invoice-ingest", cfg.ServiceName)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.False(t, cfg.KafkaTLS)
	})

	t.Run("overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("INGEST_API_KEY", "secret")
		t.Setenv("INGEST_PAYLOAD_TTL_MINUTES", "3")
		t.Setenv("INGEST_MAX_BATCH_SIZE", "2")
		t.Setenv("INGEST_DELIVERY_MODE", "Deferred")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
		t.Setenv("KAFKA_FLUSH_TIMEOUT_MS", "250")
		t.Setenv("KAFKA_TLS", "true")
		t.Setenv("STAGING_DRIVER", "postgres")
		t.Setenv("STAGING_DSN", "postgres://localhost/ingest?sslmode=disable")
		t.Setenv("INGEST_RATE_LIMIT_PER_MINUTE", "0")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, 3*time.Minute, cfg.PayloadTTL())
		assert.Equal(t, 2, cfg.MaxBatchSize)
		assert.Equal(t, DeliveryDeferred, cfg.DeliveryMode)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, 250*time.Millisecond, cfg.FlushTimeout())
		assert.True(t, cfg.KafkaTLS)
		assert.Equal(t, StagingPostgres, cfg.StagingDriver)
		assert.Equal(t, 0, cfg.RateLimitPerMinute)
	})

	t.Run("missing api key", func(t *testing.T) {
		clearEnv(t)

		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "INGEST_API_KEY")
	})

	t.Run("malformed numbers", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("INGEST_API_KEY", "secret")
		t.Setenv("INGEST_MAX_BATCH_SIZE", "lots")
		t.Setenv("KAFKA_TLS", "maybe")

		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "INGEST_MAX_BATCH_SIZE")
		assert.Contains(t, err.Error(), "KAFKA_TLS")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			APIKey:            "secret",
			PayloadTTLMinutes: 10,
			MaxBatchSize:      100,
			DeliveryMode:      DeliverySync,
			KafkaBrokers:      []string{"localhost:9092"},
			IngestTopic:       "invoice.ingest.v1",
			FlushTimeoutMS:    1000,
			StagingDriver:     StagingMemory,
			WorkerMaxAttempts: 1,
			LogFormat:         "json",
		}
	}

	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ttl", func(c *Config) { c.PayloadTTLMinutes = 0 }, "INGEST_PAYLOAD_TTL_MINUTES"},
		{"zero batch", func(c *Config) { c.MaxBatchSize = 0 }, "INGEST_MAX_BATCH_SIZE"},
		{"mode", func(c *Config) { c.DeliveryMode = "eventually" }, "INGEST_DELIVERY_MODE"},
		{"brokers", func(c *Config) { c.KafkaBrokers = nil }, "KAFKA_BROKERS"},
		{"flush", func(c *Config) { c.FlushTimeoutMS = -1 }, "KAFKA_FLUSH_TIMEOUT_MS"},
		{"sasl half set", func(c *Config) { c.SASLUsername = "user" }, "KAFKA_SASL"},
		{"sql without dsn", func(c *Config) { c.StagingDriver = StagingSQLite }, "STAGING_DSN"},
		{"unknown driver", func(c *Config) { c.StagingDriver = "redis" }, "STAGING_DRIVER"},
		{"attempts", func(c *Config) { c.WorkerMaxAttempts = 0 }, "WORKER_MAX_ATTEMPTS"},
		{"rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }, "INGEST_RATE_LIMIT_PER_MINUTE"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMustLoadFromEnv_Panics(t *testing.T) {
	clearEnv(t)
	assert.Panics(t, func() { MustLoadFromEnv() })
}
