package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/clock"
	"github.com/hotreload/hmr/internal/migration"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/state"
	"github.com/hotreload/hmr/internal/txn"
	"github.com/hotreload/hmr/internal/wal"
)

type fakeModule struct{ data []byte }

func (m *fakeModule) Serialize() ([]byte, error) { return m.data, nil }
func (m *fakeModule) Deserialize(d []byte) error { m.data = append([]byte(nil), d...); return nil }
func (m *fakeModule) Migrate(from, to registry.Version, d []byte) ([]byte, error) {
	return d, nil
}

type fakeHost struct{ modules map[registry.ID]migration.Module }

func newFakeHost() *fakeHost { return &fakeHost{modules: make(map[registry.ID]migration.Module)} }

func (h *fakeHost) Module(id registry.ID) (migration.Module, bool) {
	m, ok := h.modules[id]
	return m, ok
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *registry.Registry, *fakeHost, *buildpipeline.Pipeline) {
	t.Helper()

	reg := registry.New(0, nil, nil)
	store := state.NewMemoryStore(nil)
	w, err := wal.Open(wal.Config{Path: filepath.Join(t.TempDir(), "wal.log"), Durability: wal.FsyncEveryRecord}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	host := newFakeHost()
	mgr := txn.NewManager(txn.Config{}, reg, store, w, host, nil, nil, nil)

	predictor, err := buildpipeline.NewPredictor(nil, time.Millisecond, 16)
	require.NoError(t, err)
	gate := buildpipeline.NewAdmissionGate(buildpipeline.Config{RatePerSecond: 1000, Burst: 10, MaxConcurrentJobs: 4})
	pipeline := buildpipeline.NewPipeline(gate, predictor, func(job buildpipeline.Job) (string, error) {
		return "/artifacts/" + job.Target, nil
	}, nil, nil, nil)

	c := clock.NewClock(clock.Config{BaseBudget: 50 * time.Millisecond, MinBudget: time.Millisecond, MaxBudget: 100 * time.Millisecond})

	resolver := func(res buildpipeline.Result) (ResolvedArtifact, error) {
		entry, _ := reg.LookupByName(res.Job.Target)
		img := registry.NewCodeImage(entry.ID, registry.Version{Major: 1, Minor: 1}, res.ArtifactPath, []byte("built"), nil)
		return ResolvedArtifact{ModuleID: entry.ID, Version: registry.Version{Major: 1, Minor: 1}, Image: img}, nil
	}

	s := New(cfg, c, mgr, pipeline, host, resolver, nil, nil)
	return s, reg, host, pipeline
}

func registerAndActivate(t *testing.T, reg *registry.Registry, name string, v registry.Version) registry.ID {
	t.Helper()
	id, err := reg.RegisterModule(registry.Descriptor{Name: name, TrustLevel: 1})
	require.NoError(t, err)
	img := registry.NewCodeImage(id, v, "/fake/"+name, []byte("artifact-v1"), nil)
	_, err = reg.Activate(id, img)
	require.NoError(t, err)
	return id
}

func TestTickSkipsWorkOutsideCheckInterval(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, Config{CheckInterval: 10})
	require.NoError(t, s.Tick(context.Background(), 3))
}

func TestTickReturnsSchedulerDisabledWhenDisabled(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, Config{})
	s.Disable()
	err := s.Tick(context.Background(), 0)
	assert.Error(t, err)
}

func TestTickIsNoOpWhenPausedButNotDisabled(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, Config{})
	s.Pause()
	assert.NoError(t, s.Tick(context.Background(), 0))
	enabled, paused := s.Status()
	assert.True(t, enabled)
	assert.True(t, paused)
}

func TestTickCommitsADrainedArtifact(t *testing.T) {
	s, reg, _, pipeline := newTestScheduler(t, Config{CheckInterval: 1})
	moduleID := registerAndActivate(t, reg, "physics", registry.Version{Major: 1, Minor: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Run(ctx)
	defer pipeline.Stop()

	pipeline.Submit(buildpipeline.Job{Target: "physics", Priority: buildpipeline.PriorityNormal})

	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, s.Tick(context.Background(), 0))
		entry, ok := reg.Lookup(moduleID)
		require.True(t, ok)
		if entry.CodeImage().Version.Minor == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("module was never reloaded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
