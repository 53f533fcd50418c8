package runtimeconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir string, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "hmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestReloadAppliesChangedFieldsAndBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "check_interval_frames: 60\n")

	initial, err := Load(path)
	require.NoError(t, err)
	svc := NewService(*initial, SourceFile, path)
	coord := NewCoordinator(svc, path, nil)

	var observedOld, observedNew uint64
	coord.OnApply(func(old, next Options) error {
		observedOld = old.CheckIntervalFrames
		observedNew = next.CheckIntervalFrames
		return nil
	})

	writeConfig(t, dir, "check_interval_frames: 30\n")

	result, err := coord.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Changed, "check_interval_frames")
	assert.Equal(t, int64(1), result.Version)
	assert.Equal(t, uint64(60), observedOld)
	assert.Equal(t, uint64(30), observedNew)
	assert.Equal(t, uint64(30), svc.Current().Options.CheckIntervalFrames)
}

func TestReloadSkipsApplyWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "check_interval_frames: 60\n")

	initial, err := Load(path)
	require.NoError(t, err)
	svc := NewService(*initial, SourceFile, path)
	coord := NewCoordinator(svc, path, nil)

	called := false
	coord.OnApply(func(old, next Options) error {
		called = true
		return nil
	})

	result, err := coord.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Changed)
	assert.False(t, called)
}

func TestReloadRollsBackAllSubscribersOnApplyFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "check_interval_frames: 60\n")

	initial, err := Load(path)
	require.NoError(t, err)
	svc := NewService(*initial, SourceFile, path)
	coord := NewCoordinator(svc, path, nil)

	var firstRolledBackTo uint64
	coord.OnApply(func(old, next Options) error {
		firstRolledBackTo = next.CheckIntervalFrames
		return nil
	})
	coord.OnApply(func(old, next Options) error {
		return fmt.Errorf("subsystem refused the new value")
	})

	writeConfig(t, dir, "check_interval_frames: 30\n")

	result, err := coord.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	assert.Equal(t, uint64(60), firstRolledBackTo, "first subscriber should observe the rollback value")
	assert.Equal(t, uint64(60), svc.Current().Options.CheckIntervalFrames, "service should still report the old value")
}
