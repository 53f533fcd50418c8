package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/txn"
	"github.com/hotreload/hmr/internal/wal"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint64(60), opts.CheckIntervalFrames)
	assert.Equal(t, 4, opts.Build.MaxParallelJobs)
	assert.Equal(t, 0.85, opts.Build.CPULoadThreshold)
	assert.Equal(t, "FsyncOnCommit", opts.WALDurability)
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
check_interval_frames: 30
wal_durability: FsyncEveryRecord
build:
  max_parallel_jobs: 8
security:
  require_signature: true
`), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(30), opts.CheckIntervalFrames)
	assert.Equal(t, "FsyncEveryRecord", opts.WALDurability)
	assert.Equal(t, 8, opts.Build.MaxParallelJobs)
	assert.True(t, opts.Security.RequireSignature)
}

func TestLoadRejectsInvalidCPULoadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  cpu_load_threshold: 1.5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestIsolationAndDurabilityTranslateKnownValues(t *testing.T) {
	opts := Options{DefaultIsolation: "ReadCommitted", WALDurability: "BufferedOnly"}
	assert.Equal(t, "ReadCommitted", opts.DefaultIsolation)
	assert.NotPanics(t, func() {
		_ = opts.Isolation()
		_ = opts.Durability()
	})
	assert.Equal(t, txn.ReadCommitted, opts.Isolation())
	assert.Equal(t, wal.BufferedOnly, opts.Durability())
}
