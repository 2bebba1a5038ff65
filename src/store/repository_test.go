package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-ingest/src/batchid"
	"invoice-ingest/src/contracts"
)

type failingStore struct {
	*MemoryStore
	putErr error
	getErr error
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, key, value, ttl)
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, key)
}

func sampleBatch(t *testing.T) contracts.InvoiceBatch {
	t.Helper()
	return contracts.NewInvoiceBatch(batchid.MustGenerate(), contracts.BatchPayload{
		Source: "json",
		Invoices: []contracts.Invoice{
			contracts.Invoice(`{"external_id":"INV-1","customer_id":"C-1","issued_at":"2024-03-01","total":"12.50","currency":"EUR"}`),
		},
	}, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestPayloadRepository_StageAndLoad(t *testing.T) {
	st := NewMemoryStore()
	repo := NewPayloadRepository(st, 5*time.Minute)
	ctx := context.Background()
	batch := sampleBatch(t)

	key, err := repo.Stage(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, "invoice-batch:"+batch.BatchID.String(), key)

	raw, err := st.Get(ctx, key)
	require.NoError(t, err)
	var staged map[string]any
	require.NoError(t, json.Unmarshal(raw, &staged))
	assert.Equal(t, "accepted", staged["status"])
	assert.Equal(t, batch.BatchID.String(), staged["batch_id"])

	loaded, err := repo.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, batch.BatchID, loaded.BatchID)
	assert.Equal(t, batch.Payload, loaded.Payload)
	assert.True(t, batch.AcceptedAt.Equal(loaded.AcceptedAt))

	// Load is non-destructive.
	exists, err := repo.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Forget(ctx, key))
	exists, err = repo.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPayloadRepository_LoadMissing(t *testing.T) {
	repo := NewPayloadRepository(NewMemoryStore(), time.Minute)

	_, err := repo.Load(context.Background(), "invoice-batch:nope")
	assert.ErrorIs(t, err, contracts.ErrPayloadMissing)
	assert.True(t, contracts.IsPermanent(err))
}

func TestPayloadRepository_LoadExpired(t *testing.T) {
	clock := newFakeClock()
	repo := NewPayloadRepository(NewMemoryStoreWithClock(clock.Now), time.Minute)
	ctx := context.Background()

	key, err := repo.Stage(ctx, sampleBatch(t))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = repo.Load(ctx, key)
	assert.ErrorIs(t, err, contracts.ErrPayloadMissing)
}

func TestPayloadRepository_StoreFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	repo := NewPayloadRepository(&failingStore{MemoryStore: NewMemoryStore(), putErr: boom}, time.Minute)
	_, err := repo.Stage(ctx, sampleBatch(t))
	assert.ErrorIs(t, err, contracts.ErrStaging)
	assert.ErrorIs(t, err, boom)

	repo = NewPayloadRepository(&failingStore{MemoryStore: NewMemoryStore(), getErr: boom}, time.Minute)
	_, err = repo.Load(ctx, "invoice-batch:x")
	assert.ErrorIs(t, err, contracts.ErrStaging)
	assert.False(t, contracts.IsPermanent(err))
}

func TestPayloadRepository_UnencodableBatch(t *testing.T) {
	st := NewMemoryStore()
	repo := NewPayloadRepository(st, time.Minute)

	batch := sampleBatch(t)
	batch.Payload.Invoices[0] = contracts.Invoice(`{"total":NaN}`)

	_, err := repo.Stage(context.Background(), batch)
	assert.ErrorIs(t, err, contracts.ErrSerialization)
	assert.Equal(t, 0, st.Len())
}

func TestNewPayloadRepository_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewPayloadRepository(NewMemoryStore(), 0).TTL())
}
