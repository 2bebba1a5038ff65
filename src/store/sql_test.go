package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, clock *fakeClock) *SQLStore {
	t.Helper()

	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	st.now = clock.Now
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLStore_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t, newFakeClock())

	assert.NoError(t, st.Migrate(context.Background()))
	assert.Equal(t, "sqlite", st.Dialect())
}

func TestSQLStore_PutGetDelete(t *testing.T) {
	st := newTestSQLiteStore(t, newFakeClock())
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "invoice-batch:a", []byte(`{"n":1}`), time.Minute))

	got, err := st.Get(ctx, "invoice-batch:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got))

	// Upsert replaces the value.
	require.NoError(t, st.Put(ctx, "invoice-batch:a", []byte(`{"n":2}`), time.Minute))
	got, err = st.Get(ctx, "invoice-batch:a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))

	require.NoError(t, st.Delete(ctx, "invoice-batch:a"))
	_, err = st.Get(ctx, "invoice-batch:a")
	assert.True(t, IsNotFound(err))

	assert.NoError(t, st.Delete(ctx, "invoice-batch:a"))
}

func TestSQLStore_ExpiryAndPurge(t *testing.T) {
	clock := newFakeClock()
	st := newTestSQLiteStore(t, clock)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, st.Put(ctx, "long", []byte("b"), time.Hour))

	clock.Advance(2 * time.Minute)

	_, err := st.Get(ctx, "short")
	assert.True(t, IsNotFound(err))

	removed, err := st.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := st.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}
