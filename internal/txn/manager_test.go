package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/migration"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/state"
	"github.com/hotreload/hmr/internal/wal"
)

type fakeModule struct{ data []byte }

func (m *fakeModule) Serialize() ([]byte, error)  { return m.data, nil }
func (m *fakeModule) Deserialize(d []byte) error  { m.data = append([]byte(nil), d...); return nil }
func (m *fakeModule) Migrate(from, to registry.Version, d []byte) ([]byte, error) {
	return d, nil
}

type fakeHost struct{ modules map[registry.ID]migration.Module }

func newFakeHost() *fakeHost { return &fakeHost{modules: make(map[registry.ID]migration.Module)} }

func (h *fakeHost) Module(id registry.ID) (migration.Module, bool) {
	m, ok := h.modules[id]
	return m, ok
}

func newTestManager(t *testing.T, host ModuleHost) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(0, nil, nil)
	store := state.NewMemoryStore(nil)
	w, err := wal.Open(wal.Config{Path: filepath.Join(t.TempDir(), "wal.log"), Durability: wal.FsyncEveryRecord}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	mgr := NewManager(Config{}, reg, store, w, host, nil, nil, nil)
	return mgr, reg
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

func TestSingleModuleCommitSwapsCodeImageAndPersistsState(t *testing.T) {
	mgr, reg := newTestManager(t, nil)
	moduleID := registerAndActivate(t, reg, "physics", registry.Version{Major: 1, Minor: 0, Patch: 0})

	txnCtx := mgr.Begin(SingleModule, Serializable)
	v2 := registry.Version{Major: 1, Minor: 1, Patch: 0}
	img2 := registry.NewCodeImage(moduleID, v2, "/fake/physics", []byte("artifact-v2"), nil)

	require.NoError(t, mgr.AddModuleUpdate(txnCtx, moduleID, v2, img2, []byte("state-bytes"), 11))

	count, err := mgr.DetectConflicts(txnCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, mgr.Commit(context.Background(), txnCtx))
	assert.Equal(t, StateCommitted, txnCtx.State())

	entry, ok := reg.Lookup(moduleID)
	require.True(t, ok)
	assert.Equal(t, v2, entry.CodeImage().Version)
}

func TestMajorVersionConflictIsNotAutoResolvableWithoutOverride(t *testing.T) {
	mgr, reg := newTestManager(t, nil)
	moduleID := registerAndActivate(t, reg, "renderer", registry.Version{Major: 1, Minor: 0, Patch: 0})

	txnCtx := mgr.Begin(SingleModule, Serializable)
	v2 := registry.Version{Major: 2, Minor: 0, Patch: 0}
	img2 := registry.NewCodeImage(moduleID, v2, "/fake/renderer", []byte("artifact-v2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, moduleID, v2, img2, nil, 0))

	count, err := mgr.DetectConflicts(txnCtx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.Equal(t, MajorBreaking, txnCtx.Conflicts()[0].Kind)

	resolved := mgr.ResolveConflicts(txnCtx, KeepCurrent)
	assert.Equal(t, 0, resolved, "major conflicts require OverrideNew")

	err = mgr.Commit(context.Background(), txnCtx)
	require.Error(t, err)
	assert.Equal(t, StateAborted, txnCtx.State())

	resolved = mgr.ResolveConflicts(txnCtx, OverrideNew)
	assert.Equal(t, 1, resolved)
}

func TestSecurityConflictNeverAutoResolvesWithAutoMerge(t *testing.T) {
	mgr, reg := newTestManager(t, nil)
	moduleID := registerAndActivate(t, reg, "net", registry.Version{Major: 1, Minor: 0, Patch: 0})

	txnCtx := mgr.Begin(SingleModule, Serializable)
	v2 := registry.Version{Major: 1, Minor: 0, Patch: 1, Flags: registry.FlagSecurity}
	img2 := registry.NewCodeImage(moduleID, v2, "/fake/net", []byte("artifact-v2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, moduleID, v2, img2, nil, 0))

	count, err := mgr.DetectConflicts(txnCtx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	assert.Equal(t, 0, mgr.ResolveConflicts(txnCtx, AutoMerge))
	assert.Equal(t, 1, mgr.ResolveConflicts(txnCtx, OverrideNew))
}

func TestTwoModuleBatchCommitsInDependencyOrder(t *testing.T) {
	mgr, reg := newTestManager(t, nil)
	coreID := registerAndActivate(t, reg, "core", registry.Version{Major: 1})
	physicsID := registerAndActivate(t, reg, "physics", registry.Version{Major: 1})
	require.NoError(t, reg.AddDependency(physicsID, coreID, registry.Version{}))

	txnCtx := mgr.Begin(DependencyChain, Serializable)

	coreV2 := registry.Version{Major: 1, Minor: 1}
	coreImg := registry.NewCodeImage(coreID, coreV2, "/fake/core", []byte("core-v2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, coreID, coreV2, coreImg, nil, 0))

	physicsV2 := registry.Version{Major: 1, Minor: 1}
	physicsImg := registry.NewCodeImage(physicsID, physicsV2, "/fake/physics", []byte("physics-v2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, physicsID, physicsV2, physicsImg, nil, 0))
	require.NoError(t, mgr.AddDependency(txnCtx, physicsID, coreID))

	count, err := mgr.DetectConflicts(txnCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, mgr.Commit(context.Background(), txnCtx))
	assert.Equal(t, StateCommitted, txnCtx.State())

	coreEntry, _ := reg.Lookup(coreID)
	physicsEntry, _ := reg.Lookup(physicsID)
	assert.Equal(t, coreV2, coreEntry.CodeImage().Version)
	assert.Equal(t, physicsV2, physicsEntry.CodeImage().Version)
}

func TestCyclicDependencyWithinABatchIsRejected(t *testing.T) {
	mgr, reg := newTestManager(t, nil)
	aID := registerAndActivate(t, reg, "a", registry.Version{Major: 1})
	bID := registerAndActivate(t, reg, "b", registry.Version{Major: 1})

	txnCtx := mgr.Begin(BatchUpdate, Serializable)
	aImg := registry.NewCodeImage(aID, registry.Version{Major: 1, Minor: 1}, "/fake/a", []byte("a2"), nil)
	bImg := registry.NewCodeImage(bID, registry.Version{Major: 1, Minor: 1}, "/fake/b", []byte("b2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, aID, registry.Version{Major: 1, Minor: 1}, aImg, nil, 0))
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, bID, registry.Version{Major: 1, Minor: 1}, bImg, nil, 0))
	require.NoError(t, mgr.AddDependency(txnCtx, aID, bID))
	require.NoError(t, mgr.AddDependency(txnCtx, bID, aID))

	err := mgr.Commit(context.Background(), txnCtx)
	require.Error(t, err)
}

func TestRollbackToCheckpointRestoresModuleState(t *testing.T) {
	host := newFakeHost()
	mgr, reg := newTestManager(t, host)
	moduleID := registerAndActivate(t, reg, "inventory", registry.Version{Major: 1})
	mod := &fakeModule{data: []byte("original")}
	host.modules[moduleID] = mod

	txnCtx := mgr.Begin(SingleModule, Serializable)
	v2 := registry.Version{Major: 1, Minor: 1}
	img2 := registry.NewCodeImage(moduleID, v2, "/fake/inventory", []byte("artifact-v2"), nil)
	require.NoError(t, mgr.AddModuleUpdate(txnCtx, moduleID, v2, img2, []byte("updated"), 7))

	require.NoError(t, mgr.Prepare(context.Background(), txnCtx))
	require.Len(t, txnCtx.checkpoints, 1)

	checkpointID := txnCtx.checkpoints[0].ID
	require.NoError(t, mgr.RollbackToCheckpoint(context.Background(), txnCtx, checkpointID))
	assert.Equal(t, []byte("updated"), mod.data)
}
