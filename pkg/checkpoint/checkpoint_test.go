package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donnahq/donna/pkg/checkpoint"
	"github.com/donnahq/donna/pkg/config"
)

func testStores(t *testing.T) map[string]checkpoint.Store {
	t.Helper()
	mem, err := checkpoint.NewMemoryStore(8, 30*time.Minute)
	require.NoError(t, err)
	sqlite, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "ckpt.db"), 30*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() {
		mem.Close()
		sqlite.Close()
	})
	return map[string]checkpoint.Store{"memory": mem, "sqlite": sqlite}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx, "u1")
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)

			rec := &checkpoint.Record{UserID: "u1", TurnID: "t1", State: []byte(`{"step":"A"}`)}
			require.NoError(t, store.Save(ctx, rec))

			got, err := store.Load(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "t1", got.TurnID)
			assert.JSONEq(t, `{"step":"A"}`, string(got.State))
			assert.False(t, got.ExpiresAt.IsZero())

			// A second save for the same user replaces the first.
			require.NoError(t, store.Save(ctx, &checkpoint.Record{UserID: "u1", TurnID: "t2", State: []byte(`{}`)}))
			got, err = store.Load(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "t2", got.TurnID)

			require.NoError(t, store.Delete(ctx, "u1"))
			_, err = store.Load(ctx, "u1")
			assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		})
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store, err := checkpoint.NewMemoryStore(8, 30*time.Minute)
	require.NoError(t, err)
	store.WithClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &checkpoint.Record{UserID: "u1", TurnID: "t1", State: []byte(`{}`)}))

	now = now.Add(29 * time.Minute)
	_, err = store.Load(ctx, "u1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, "u1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSQLiteStore_TTLExpiryAndSweep(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "ckpt.db"), 30*time.Minute)
	require.NoError(t, err)
	defer store.Close()
	store.WithClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &checkpoint.Record{UserID: "u1", TurnID: "t1", State: []byte(`{}`)}))
	require.NoError(t, store.Save(ctx, &checkpoint.Record{UserID: "u2", TurnID: "t2", State: []byte(`{}`)}))

	now = now.Add(31 * time.Minute)
	_, err = store.Load(ctx, "u1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	swept, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

func TestNew_SelectsBackend(t *testing.T) {
	store, err := checkpoint.New(config.CheckpointConfig{
		Backend: config.CheckpointBackendMemory, TTL: time.Minute, Capacity: 4,
	})
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.MemoryStore{}, store)
	store.Close()

	store, err = checkpoint.New(config.CheckpointConfig{
		Backend: config.CheckpointBackendSQLite,
		Path:    filepath.Join(t.TempDir(), "ckpt.db"),
		TTL:     time.Minute,
	})
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.SQLiteStore{}, store)
	store.Close()
}
