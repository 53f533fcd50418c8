package hmr

import (
	"context"
	"fmt"
	"sync"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/migration"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/txn"
	"github.com/hotreload/hmr/pkg/hmrmodule"
)

// moduleAdapter bridges a module author's hmrmodule.Module into the
// narrower migration.Module the transaction manager and scheduler
// actually depend on, so neither internal package needs to know the
// public contract exists.
type moduleAdapter struct {
	mod hmrmodule.Module
}

func (a moduleAdapter) Serialize() ([]byte, error) { return a.mod.Serialize() }
func (a moduleAdapter) Deserialize(data []byte) error {
	return a.mod.Deserialize(data)
}
func (a moduleAdapter) Migrate(from, to registry.Version, data []byte) ([]byte, error) {
	return a.mod.Migrate(from, to, data)
}

var _ migration.Module = moduleAdapter{}

// hostRegistry tracks the live hmrmodule.Module instance behind each
// registry.ID, satisfying both scheduler.ModuleHost and txn.ModuleHost
// with the same underlying map.
type hostRegistry struct {
	mu   sync.RWMutex
	mods map[registry.ID]hmrmodule.Module
}

func newHostRegistry() *hostRegistry {
	return &hostRegistry{mods: make(map[registry.ID]hmrmodule.Module)}
}

func (h *hostRegistry) set(id registry.ID, mod hmrmodule.Module) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mods[id] = mod
}

func (h *hostRegistry) delete(id registry.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.mods, id)
}

func (h *hostRegistry) Module(id registry.ID) (migration.Module, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	mod, ok := h.mods[id]
	if !ok {
		return nil, false
	}
	return moduleAdapter{mod: mod}, true
}

func (h *hostRegistry) get(id registry.ID) (hmrmodule.Module, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	mod, ok := h.mods[id]
	return mod, ok
}

// ModuleHandle is the opaque identity consumers use to refer to a
// registered module across load/unload/resolve/info calls (§6).
type ModuleHandle = registry.ID

// ModuleInfo is the read-only projection status()/info() expose for a
// single module.
type ModuleInfo struct {
	Name         string
	Version      registry.Version
	Size         int
	LastLoadTS   int64
	Refcount     int64
	Critical     bool
	State        registry.State
	Dependencies []string
}

// RegisterModule declares a module's static identity with the registry
// and binds mod as the live instance the runtime drives init/shutdown
// and state preservation calls against. It does not load any code —
// call Load afterward to activate a build artifact for this module.
func (r *Runtime) RegisterModule(ctx context.Context, desc registry.Descriptor, mod hmrmodule.Module) (ModuleHandle, error) {
	id, err := r.registry.RegisterModule(desc)
	if err != nil {
		return 0, err
	}
	if err := mod.Init(ctx); err != nil {
		return 0, herrors.Wrap(herrors.InvalidArgument, "module init failed", err)
	}
	r.hosts.set(id, mod)
	return id, nil
}

// Load maps the artifact at artifactPath into a CodeImage and activates
// it for handle through a single-module transaction — a module's very
// first load has no prior state to preserve, but routing it through
// the Transaction Manager still gives it a WAL record and an observer
// event, so "module went live" is never invisible to either.
func (r *Runtime) Load(ctx context.Context, handle ModuleHandle, artifactPath string, version registry.Version) error {
	entry, ok := r.registry.Lookup(handle)
	if !ok {
		return herrors.New(herrors.NotFound, fmt.Sprintf("unknown module handle %d", handle))
	}

	img, err := r.loader.Load(registry.ArtifactMeta{
		ModuleID:     handle,
		Version:      version,
		ArtifactPath: artifactPath,
	})
	if err != nil {
		return err
	}

	t := r.txns.Begin(txn.SingleModule, r.defaultIsolation)
	if err := r.txns.AddModuleUpdate(t, handle, version, img, nil, 0); err != nil {
		img.Release()
		return err
	}
	for _, dep := range entry.Dependencies() {
		_ = r.txns.AddDependency(t, handle, dep)
	}
	if err := r.txns.Commit(ctx, t); err != nil {
		_ = r.txns.Abort(ctx, t)
		return err
	}
	return nil
}

// Unload deactivates handle, refusing while callers still hold a
// resolved reference or a dependent module is still Active (§3
// lifecycle). The bound hmrmodule.Module's Shutdown is called once
// deactivation succeeds.
func (r *Runtime) Unload(ctx context.Context, handle ModuleHandle) error {
	if err := r.registry.Deactivate(handle); err != nil {
		return err
	}
	if mod, ok := r.hosts.get(handle); ok {
		if err := mod.Shutdown(ctx); err != nil {
			r.logger.Warn("module shutdown returned an error", "module_id", handle, "error", err)
		}
		r.hosts.delete(handle)
	}
	return nil
}

// Resolve looks up symbolName in handle's currently active code image.
func (r *Runtime) Resolve(handle ModuleHandle, symbolName string) (registry.EntryPoint, error) {
	return r.registry.ResolveSymbol(handle, symbolName)
}

// Handle looks up a module's handle by the name it was registered
// under, for callers (e.g. a control API keyed by module name) that
// don't already hold the ModuleHandle returned from RegisterModule.
func (r *Runtime) Handle(name string) (ModuleHandle, bool) {
	entry, ok := r.registry.LookupByName(name)
	if !ok {
		return 0, false
	}
	return entry.ID, true
}

// Info reports a module's current identity, version and lifecycle
// state for status/diagnostic consumers.
func (r *Runtime) Info(handle ModuleHandle) (ModuleInfo, error) {
	entry, ok := r.registry.Lookup(handle)
	if !ok {
		return ModuleInfo{}, herrors.New(herrors.NotFound, fmt.Sprintf("unknown module handle %d", handle))
	}

	info := ModuleInfo{
		Name:     entry.Name,
		State:    entry.State(),
		Refcount: entry.Refcount(),
	}
	if img := entry.CodeImage(); img != nil {
		info.Version = img.Version
		info.Size = img.Size()
	}
	sec := entry.Security()
	info.Critical = sec.TrustLevel >= criticalTrustLevel
	return info, nil
}

// criticalTrustLevel is the registry.Descriptor.TrustLevel (0-3) floor
// at which a module is reported as "critical" in ModuleInfo — trust
// level 3 is reserved for modules whose failure would take down the
// host simulation, per the descriptor's validate:"gte=0,lte=3" range.
const criticalTrustLevel = 3
