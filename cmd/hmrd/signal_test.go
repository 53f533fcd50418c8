package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/runtimeconfig"
)

func writeTestConfig(t *testing.T, dir, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "hmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestReloadHandlerAppliesOnSighup(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "check_interval_frames: 60\n")

	initial, err := runtimeconfig.Load(path)
	require.NoError(t, err)
	svc := runtimeconfig.NewService(*initial, runtimeconfig.SourceFile, path)
	coord := runtimeconfig.NewCoordinator(svc, path, nil)

	h := newReloadHandler(coord, nil, newReloadMetrics(prometheus.NewRegistry()))
	h.Start()
	defer h.Stop()

	writeTestConfig(t, dir, "check_interval_frames: 30\n")

	h.sigChan <- syscall.SIGHUP

	require.Eventually(t, func() bool {
		return svc.Current().Options.CheckIntervalFrames == 30
	}, time.Second, 10*time.Millisecond)
}

func TestReloadHandlerDebouncesBurstsOfSignals(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "check_interval_frames: 60\n")

	initial, err := runtimeconfig.Load(path)
	require.NoError(t, err)
	svc := runtimeconfig.NewService(*initial, runtimeconfig.SourceFile, path)
	coord := runtimeconfig.NewCoordinator(svc, path, nil)

	h := newReloadHandler(coord, nil, newReloadMetrics(prometheus.NewRegistry()))
	assert.False(t, h.shouldDebounce())
	h.lastReload.Store(time.Now())
	assert.True(t, h.shouldDebounce())

	h.lastReload.Store(time.Now().Add(-2 * time.Second))
	assert.False(t, h.shouldDebounce())
}
