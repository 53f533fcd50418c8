package hmr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/runtimeconfig"
	"github.com/hotreload/hmr/pkg/hmrmodule"
)

type fakeModule struct {
	data []byte
}

func (m *fakeModule) Init(ctx context.Context) error     { return nil }
func (m *fakeModule) Shutdown(ctx context.Context) error { return nil }
func (m *fakeModule) Serialize() ([]byte, error)         { return m.data, nil }
func (m *fakeModule) Deserialize(d []byte) error {
	m.data = append([]byte(nil), d...)
	return nil
}
func (m *fakeModule) Migrate(from, to hmrmodule.Version, d []byte) ([]byte, error) {
	return d, nil
}
func (m *fakeModule) DeclaredVersion() hmrmodule.Version { return hmrmodule.Version{Major: 1} }
func (m *fakeModule) DeclaredDependencies() []string     { return nil }

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	dir := t.TempDir()

	opts := runtimeconfig.Options{
		CheckIntervalFrames:  1,
		MaxFrameBudget:       50 * time.Millisecond,
		MaxConcurrentModules: 16,
		WALPath:              filepath.Join(dir, "wal.log"),
		WALDurability:        "BufferedOnly",
		Build:                runtimeconfig.BuildOptions{MaxParallelJobs: 2, CPULoadThreshold: 0.85},
	}

	artifact := filepath.Join(dir, "module.artifact")
	require.NoError(t, os.WriteFile(artifact, []byte("physics-v1"), 0o644))

	resolve := func(raw []byte) (map[string]registry.EntryPoint, error) {
		return map[string]registry.EntryPoint{"step": func() {}}, nil
	}
	build := func(job buildpipeline.Job) (string, error) { return artifact, nil }

	rt, err := New(context.Background(), Config{
		Options:    opts,
		Registerer: prometheus.NewRegistry(),
		Resolve:    resolve,
		Build:      build,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func TestNewWiresEveryComponent(t *testing.T) {
	rt := newTestRuntime(t)
	assert.NotNil(t, rt.registry)
	assert.NotNil(t, rt.sched)
	assert.NotNil(t, rt.pipeline)
}

func TestRegisterLoadResolveAndUnload(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	handle, err := rt.RegisterModule(ctx, registry.Descriptor{Name: "physics"}, &fakeModule{})
	require.NoError(t, err)

	artifact := filepath.Join(t.TempDir(), "physics.artifact")
	require.NoError(t, os.WriteFile(artifact, []byte("physics-v1"), 0o644))

	err = rt.Load(ctx, handle, artifact, registry.Version{Major: 1})
	require.NoError(t, err)

	ep, err := rt.Resolve(handle, "step")
	require.NoError(t, err)
	assert.NotNil(t, ep)

	info, err := rt.Info(handle)
	require.NoError(t, err)
	assert.Equal(t, "physics", info.Name)
	assert.Equal(t, registry.StateActive, info.State)

	require.NoError(t, rt.Unload(ctx, handle))
}

func TestFrameTickAndStatusReportScheduler(t *testing.T) {
	rt := newTestRuntime(t)
	stats, err := rt.FrameTick(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Frame)

	status := rt.Status()
	assert.True(t, status.Enabled)
	assert.False(t, status.Paused)
}

func TestEnablePauseToggleSchedulerStatus(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Pause(true)
	status := rt.Status()
	assert.True(t, status.Paused)

	rt.Enable(false)
	status = rt.Status()
	assert.False(t, status.Enabled)
}

func TestObserveReceivesReloadEvents(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	sub := rt.Observe(8)
	defer rt.Unsubscribe(sub)

	_, err := rt.RegisterModule(ctx, registry.Descriptor{Name: "ai"}, &fakeModule{})
	require.NoError(t, err)

	artifact := filepath.Join(t.TempDir(), "ai.artifact")
	require.NoError(t, os.WriteFile(artifact, []byte("ai-v1"), 0o644))

	entry, ok := rt.registry.LookupByName("ai")
	require.True(t, ok)
	require.NoError(t, rt.Load(ctx, entry.ID, artifact, registry.Version{Major: 1}))

	select {
	case ev := <-sub.Events():
		assert.NotEmpty(t, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected at least one observer event after a load")
	}
}
