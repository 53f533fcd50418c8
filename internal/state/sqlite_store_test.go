package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/registry"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(context.Background(), path, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePutGetRoundTrips(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	moduleID := registry.ID(3)

	snap, err := NewSnapshot("snap-1", moduleID, registry.Version{Major: 1, Minor: 2}, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, snap))

	got, err := store.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Bytes, got.Bytes)
	assert.Equal(t, snap.Version, got.Version)
}

func TestSQLiteStoreLatestOrdersByCreatedAt(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	moduleID := registry.ID(9)

	for i := 0; i < 3; i++ {
		snap, err := NewSnapshot(string(rune('a'+i)), moduleID, registry.Version{Build: uint32(i)}, []byte("s"))
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, snap))
	}

	latest, err := store.Latest(ctx, moduleID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), latest.Version.Build)
}

func TestSQLiteBusyCheckerClassifiesLockContentionAsRetryable(t *testing.T) {
	checker := sqliteBusyChecker{}

	assert.True(t, checker.IsRetryable(errors.New("database is locked")))
	assert.True(t, checker.IsRetryable(errors.New("sqlite: database table is busy")))
	assert.False(t, checker.IsRetryable(errors.New("UNIQUE constraint failed: snapshots.id")))
	assert.False(t, checker.IsRetryable(nil))
}
