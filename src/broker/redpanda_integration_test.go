//go:build integration

package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

// setupKafka starts Kafka using testcontainers and returns the broker address.
func setupKafka(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		kafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err, "Failed to start Kafka container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func TestIntegration_RedpandaBroker_PublishConsume(t *testing.T) {
	addr := setupKafka(t)

	b, err := NewRedpandaBroker([]string{addr}, Options{AutoCreateTopics: true})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, b.Ping(ctx))

	topic := fmt.Sprintf("it-%d", time.Now().UnixNano())
	require.NoError(t, b.Publish(ctx, topic, "k1", []byte("first")))
	require.NoError(t, b.Publish(ctx, topic, "k2", []byte("second")))

	// A failed handler leaves the offset uncommitted.
	err = b.Consume(ctx, topic, "it-group", func(ctx context.Context, msg Message) error {
		return fmt.Errorf("not yet")
	})
	require.Error(t, err)

	consumeCtx, stop := context.WithCancel(ctx)
	var keys []string
	err = b.Consume(consumeCtx, topic, "it-group", func(ctx context.Context, msg Message) error {
		keys = append(keys, msg.Key)
		if len(keys) == 2 {
			stop()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"k1", "k2"}, keys)
}
