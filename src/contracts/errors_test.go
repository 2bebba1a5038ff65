package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"invoice-ingest/src/batchid"
)

func TestErrorType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"authentication", ErrAuthentication, "authentication_failure"},
		{"validation", ErrValidation, "validation_failure"},
		{"staging", ErrStaging, "staging_failure"},
		{"enqueue", ErrEnqueue, "enqueue_failure"},
		{"serialization", ErrSerialization, "serialization_error"},
		{"unreachable", ErrBrokerUnreachable, "broker_unreachable"},
		{"timeout", ErrTimeout, "timeout"},
		{"broker", ErrBroker, "broker_error"},
		{"payload missing", ErrPayloadMissing, "payload_missing"},
		{"unknown", errors.New("random"), "unknown"},
		{"joined", errors.Join(ErrTimeout, errors.New("deadline")), "timeout"},
		{"wrapped", fmt.Errorf("publish: %w", ErrBroker), "broker_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorType(tt.err))
		})
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrSerialization, ErrBrokerUnreachable, ErrTimeout, ErrBroker} {
		assert.True(t, IsPublishFailure(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
	for _, err := range []error{ErrAuthentication, ErrValidation, ErrStaging, ErrEnqueue, ErrPayloadMissing, errors.New("x")} {
		assert.False(t, IsPublishFailure(err), err.Error())
	}

	assert.True(t, IsPermanent(errors.Join(ErrPayloadMissing, errors.New("gone"))))
	assert.True(t, IsPermanent(ErrSerialization))
	assert.False(t, IsPermanent(ErrTimeout))
	assert.False(t, IsPermanent(ErrStaging))
	assert.False(t, IsPermanent(nil))

	// Only pointer identity matches a sentinel.
	assert.False(t, errors.Is(&categoryError{category: "timeout", message: "timeout"}, ErrTimeout))
}

func TestNewInvoiceBatch_NormalisesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("COT", -5*60*60)
	accepted := time.Date(2024, 1, 1, 7, 0, 0, 0, loc)
	batch := NewInvoiceBatch(batchid.MustGenerate(), BatchPayload{}, accepted)

	assert.Equal(t, time.UTC, batch.AcceptedAt.Location())
	assert.True(t, batch.AcceptedAt.Equal(accepted))
}
