package state

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/registry"
)

func TestSnapshotRoundTripsSmallPayload(t *testing.T) {
	plaintext := []byte("small state blob")
	snap, err := NewSnapshot("snap-1", registry.ID(1), registry.Version{Major: 1}, plaintext)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, snap.CompressionKind)

	got, err := snap.Plaintext()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestSnapshotCompressesLargePayload(t *testing.T) {
	plaintext := bytes.Repeat([]byte("x"), compressionThreshold+1)
	snap, err := NewSnapshot("snap-2", registry.ID(1), registry.Version{Major: 1}, plaintext)
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, snap.CompressionKind)
	assert.Less(t, len(snap.Bytes), len(plaintext))

	got, err := snap.Plaintext()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestSnapshotPlaintextDetectsCorruption(t *testing.T) {
	snap, err := NewSnapshot("snap-3", registry.ID(1), registry.Version{Major: 1}, []byte("state"))
	require.NoError(t, err)

	snap.Bytes = []byte("tampered")

	_, err = snap.Plaintext()
	require.Error(t, err)
}
