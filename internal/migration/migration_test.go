package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/registry"
)

type fakeModule struct {
	state       []byte
	migrateFunc func(from, to registry.Version, data []byte) ([]byte, error)
}

func (f *fakeModule) Serialize() ([]byte, error) { return f.state, nil }
func (f *fakeModule) Deserialize(data []byte) error {
	f.state = data
	return nil
}
func (f *fakeModule) Migrate(from, to registry.Version, data []byte) ([]byte, error) {
	if f.migrateFunc != nil {
		return f.migrateFunc(from, to, data)
	}
	return data, nil
}

func TestMigratorApplyIdentityWhenVersionsEqual(t *testing.T) {
	mod := &fakeModule{state: []byte("old")}
	m := New()

	err := m.Apply(mod, registry.Version{Major: 1}, registry.Version{Major: 1}, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, []byte("same"), mod.state)
}

func TestMigratorApplyPropagatesMigrationImpossible(t *testing.T) {
	mod := &fakeModule{migrateFunc: func(from, to registry.Version, data []byte) ([]byte, error) {
		return nil, assertErr{}
	}}
	m := New()

	err := m.Apply(mod, registry.Version{Major: 1}, registry.Version{Major: 2}, []byte("x"))
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "migration failed" }

func TestDiffDetectsChangedChunk(t *testing.T) {
	base := make([]byte, 200)
	updated := make([]byte, 200)
	copy(updated, base)
	for i := 70; i < 90; i++ {
		updated[i] = 0xFF
	}

	spec := Diff(base, updated)
	require.NotEmpty(t, spec.Ranges)
	assert.Greater(t, spec.ChangedBytes, 0)
}

func TestDiffReportsAppendedTail(t *testing.T) {
	base := []byte("hello")
	updated := []byte("hello world")

	spec := Diff(base, updated)
	require.NotEmpty(t, spec.Ranges)
	last := spec.Ranges[len(spec.Ranges)-1]
	assert.Equal(t, len(base), last.Offset)
}
