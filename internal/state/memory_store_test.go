package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/registry"
)

func TestMemoryStoreLatestAndLineage(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	moduleID := registry.ID(7)

	for i := 0; i < 3; i++ {
		snap, err := NewSnapshot(string(rune('a'+i)), moduleID, registry.Version{Major: 1, Build: uint32(i)}, []byte("state"))
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, snap))
	}

	latest, err := store.Latest(ctx, moduleID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), latest.Version.Build)

	lineage, err := store.Lineage(ctx, moduleID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
}

func TestMemoryStoreGCRespectsRetentionCount(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	moduleID := registry.ID(1)

	for i := 0; i < 5; i++ {
		snap, err := NewSnapshot(string(rune('a'+i)), moduleID, registry.Version{Build: uint32(i)}, []byte("s"))
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, snap))
	}

	deleted, err := store.GC(ctx, RetentionPolicy{Count: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	lineage, err := store.Lineage(ctx, moduleID)
	require.NoError(t, err)
	assert.Len(t, lineage, 2)
}

func TestMemoryStoreGCKeepsPinnedSnapshots(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	moduleID := registry.ID(1)

	snap, err := NewSnapshot("pinned", moduleID, registry.Version{}, []byte("s"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, snap))

	deleted, err := store.GC(ctx, RetentionPolicy{Count: 0, Age: time.Nanosecond}, map[string]struct{}{"pinned": {}})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
