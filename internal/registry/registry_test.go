package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/herrors"
)

func TestRegisterModuleAssignsStableID(t *testing.T) {
	r := New(0, nil, nil)

	id1, err := r.RegisterModule(Descriptor{Name: "graphics"})
	require.NoError(t, err)

	id2, err := r.RegisterModule(Descriptor{Name: "graphics"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestRegisterModuleRejectsOverCapacity(t *testing.T) {
	r := New(1, nil, nil)

	_, err := r.RegisterModule(Descriptor{Name: "a"})
	require.NoError(t, err)

	_, err = r.RegisterModule(Descriptor{Name: "b"})
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.PoolExhausted))
}

func TestActivateEnforcesDependencyRule(t *testing.T) {
	r := New(0, nil, nil)

	core, err := r.RegisterModule(Descriptor{Name: "core"})
	require.NoError(t, err)
	physics, err := r.RegisterModule(Descriptor{Name: "physics"})
	require.NoError(t, err)
	require.NoError(t, r.AddDependency(physics, core, Version{}))

	img := NewCodeImage(physics, Version{Major: 1}, "physics.so", []byte("x"), nil)
	_, err = r.Activate(physics, img)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.DependencyViolated))

	coreImg := NewCodeImage(core, Version{Major: 1}, "core.so", []byte("x"), nil)
	_, err = r.Activate(core, coreImg)
	require.NoError(t, err)

	_, err = r.Activate(physics, img)
	require.NoError(t, err)
}

func TestActivateEnforcesDependencyMinimumVersion(t *testing.T) {
	r := New(0, nil, nil)

	core, err := r.RegisterModule(Descriptor{Name: "core"})
	require.NoError(t, err)
	physics, err := r.RegisterModule(Descriptor{Name: "physics"})
	require.NoError(t, err)
	require.NoError(t, r.AddDependency(physics, core, Version{Major: 2}))

	coreImg := NewCodeImage(core, Version{Major: 1}, "core.so", []byte("x"), nil)
	_, err = r.Activate(core, coreImg)
	require.NoError(t, err)

	img := NewCodeImage(physics, Version{Major: 1}, "physics.so", []byte("x"), nil)
	_, err = r.Activate(physics, img)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.DependencyViolated))

	core2Img := NewCodeImage(core, Version{Major: 2}, "core.so", []byte("y"), nil)
	_, err = r.Activate(core, core2Img)
	require.NoError(t, err)

	_, err = r.Activate(physics, img)
	require.NoError(t, err)
}

func TestResolveSymbolReturnsSymbolNotFound(t *testing.T) {
	r := New(0, nil, nil)
	id, err := r.RegisterModule(Descriptor{Name: "graphics"})
	require.NoError(t, err)

	img := NewCodeImage(id, Version{Major: 1}, "g.so", []byte("x"), map[string]EntryPoint{"init": func() {}})
	_, err = r.Activate(id, img)
	require.NoError(t, err)

	_, err = r.ResolveSymbol(id, "missing")
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.SymbolNotFound))

	ep, err := r.ResolveSymbol(id, "init")
	require.NoError(t, err)
	assert.NotNil(t, ep)
}

func TestVersionTotalOrder(t *testing.T) {
	v1 := Version{Major: 1, Minor: 2, Patch: 3, Build: 100}
	v2 := Version{Major: 1, Minor: 2, Patch: 4, Build: 101}

	assert.True(t, v1.Less(v2))
	assert.Equal(t, -1, v1.Compare(v2))
	assert.Equal(t, 1, v2.Compare(v1))
}
