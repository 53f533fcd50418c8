package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
)

// DependencyRequirement names a module M depends on and the minimum
// version of that module M was built against — the floor Activate
// enforces under spec.md §4.2 ("every dependency D of M [must] be
// Active with a version >= the version M was built against").
type DependencyRequirement struct {
	ModuleName string `validate:"required,min=1"`
	MinVersion Version
}

// Descriptor declares a module's static identity at registration time —
// the validator/v10 tags enforce the shape the spec's "register_module"
// contract requires before a Module Entry is ever created.
type Descriptor struct {
	Name         string                  `validate:"required,min=1,max=128"`
	Dependencies []DependencyRequirement `validate:"dive"`
	MemoryLimit  int64                   `validate:"gte=0"`
	TrustLevel   int                     `validate:"gte=0,lte=3"`
}

var descriptorValidator = validator.New(validator.WithRequiredStructEnabled())

// Registry owns every Module Entry for the process lifetime (§3
// Ownership). Code Images are shared between the Registry and any
// transactions holding an entry-point; this struct never hands out a
// raw pointer to an Entry's internals beyond the Entry type itself.
type Registry struct {
	mu       sync.RWMutex
	byID     map[ID]*Entry
	byName   map[string]ID
	nextID   atomic.Uint64
	capacity int

	logger  *slog.Logger
	metrics *metrics.RegistryMetrics
}

// New creates an empty Registry with the given capacity (0 means
// unbounded), matching spec's `max_concurrent_modules` configuration
// option.
func New(capacity int, logger *slog.Logger, m *metrics.RegistryMetrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:     make(map[ID]*Entry),
		byName:   make(map[string]ID),
		capacity: capacity,
		logger:   logger,
		metrics:  m,
	}
}

// RegisterModule creates a Module Entry for descriptor, returning its
// stable ModuleId. Re-registering an already-known name returns the
// existing id (module identity survives across reloads).
func (r *Registry) RegisterModule(desc Descriptor) (ID, error) {
	if err := descriptorValidator.Struct(desc); err != nil {
		return 0, herrors.Wrap(herrors.InvalidArgument, "invalid module descriptor", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[desc.Name]; ok {
		return id, nil
	}

	if r.capacity > 0 && len(r.byID) >= r.capacity {
		return 0, herrors.New(herrors.PoolExhausted, fmt.Sprintf("registry at capacity %d", r.capacity))
	}

	id := ID(r.nextID.Add(1))
	entry := NewEntry(id, desc.Name)
	entry.SetSecurity(SecurityContext{MemoryLimit: desc.MemoryLimit, TrustLevel: desc.TrustLevel})

	r.byID[id] = entry
	r.byName[desc.Name] = id

	for _, req := range desc.Dependencies {
		depID, ok := r.byName[req.ModuleName]
		if !ok {
			r.logger.Warn("dependency not yet registered, version floor will not be enforced until it is",
				"module", desc.Name, "dependency", req.ModuleName)
			continue
		}
		entry.AddDependency(depID, req.MinVersion)
		r.byID[depID].AddDependent(id)
	}

	if r.metrics != nil {
		r.metrics.ModulesLoaded.Set(float64(len(r.byID)))
	}

	r.logger.Info("module registered", "module_id", id, "name", desc.Name)
	return id, nil
}

// Lookup returns the Entry for id, or false if unknown.
func (r *Registry) Lookup(id ID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// LookupByName returns the Entry registered under name, or false.
func (r *Registry) LookupByName(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// ResolveSymbol resolves name against id's currently active code image.
func (r *Registry) ResolveSymbol(id ID, name string) (EntryPoint, error) {
	entry, ok := r.Lookup(id)
	if !ok {
		return nil, herrors.New(herrors.NotFound, fmt.Sprintf("unknown module %d", id))
	}

	img := entry.CodeImage()
	if img == nil {
		return nil, herrors.New(herrors.NotFound, "module has no active code image")
	}

	ep, ok := img.Resolve(name)
	if !ok {
		return nil, herrors.New(herrors.SymbolNotFound, fmt.Sprintf("symbol %q not found in module %d", name, id))
	}
	return ep, nil
}

// Activate atomically swaps id's current code image for img under the
// registry's writer lock for that entry, enforcing the dependency rule:
// every dependency D of the module must be Active with version >= the
// version the image declares a dependency on. The caller must already
// hold an open transaction — Activate itself performs no WAL write,
// that is the transaction manager's responsibility (§4.3).
func (r *Registry) Activate(id ID, img *CodeImage) (*CodeImage, error) {
	entry, ok := r.Lookup(id)
	if !ok {
		return nil, herrors.New(herrors.NotFound, fmt.Sprintf("unknown module %d", id))
	}

	entry.Lock()
	defer entry.Unlock()

	for dep, minVersion := range entry.dependencies {
		depEntry, ok := r.Lookup(dep)
		if !ok || depEntry.State() != StateActive {
			return nil, herrors.New(herrors.DependencyViolated,
				fmt.Sprintf("module %d dependency %d is not Active", id, dep))
		}
		depImg := depEntry.CodeImage()
		if depImg == nil || depImg.Version.Compare(minVersion) < 0 {
			return nil, herrors.New(herrors.DependencyViolated,
				fmt.Sprintf("module %d dependency %d is Active but below required version %s", id, dep, minVersion.String()))
		}
	}

	prev := entry.publish(img)
	entry.state = StateActive
	entry.lastLoadTimestamp = time.Now().UnixNano()

	if r.metrics != nil {
		r.metrics.CodeImageRefcount.Inc()
	}
	r.logger.Info("module activated", "module_id", id, "version", img.Version.String())
	return prev, nil
}

// Deactivate transitions id to Unloaded. Forbidden while refcount > 0
// or any dependent is still Active.
func (r *Registry) Deactivate(id ID) error {
	entry, ok := r.Lookup(id)
	if !ok {
		return herrors.New(herrors.NotFound, fmt.Sprintf("unknown module %d", id))
	}

	entry.Lock()
	defer entry.Unlock()

	if entry.Refcount() > 0 {
		return herrors.New(herrors.InvalidArgument, "module has active callers")
	}
	for dep := range entry.dependents {
		if depEntry, ok := r.byID[dep]; ok && depEntry.State() == StateActive {
			return herrors.New(herrors.InvalidArgument, "module has active dependents")
		}
	}

	entry.state = StateUnloaded
	if img := entry.codeImage.Swap(nil); img != nil {
		img.Release()
	}
	return nil
}

// AddDependency declares that module depends on dependency at or above
// minVersion, wiring both the dependency and dependent sets.
func (r *Registry) AddDependency(module, dependency ID, minVersion Version) error {
	entry, ok := r.Lookup(module)
	if !ok {
		return herrors.New(herrors.NotFound, fmt.Sprintf("unknown module %d", module))
	}
	depEntry, ok := r.Lookup(dependency)
	if !ok {
		return herrors.New(herrors.NotFound, fmt.Sprintf("unknown dependency %d", dependency))
	}
	entry.AddDependency(dependency, minVersion)
	depEntry.AddDependent(module)
	return nil
}

// Snapshot returns a point-in-time view of every registered module's
// id, name and state, for status() reporting.
func (r *Registry) Snapshot() []ModuleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleStatus, 0, len(r.byID))
	for id, e := range r.byID {
		st := ModuleStatus{ID: id, Name: e.Name, State: e.State(), Refcount: e.Refcount()}
		if img := e.CodeImage(); img != nil {
			st.Version = img.Version
		}
		out = append(out, st)
	}
	return out
}

// ModuleStatus is the read-only projection exposed through status().
type ModuleStatus struct {
	ID       ID
	Name     string
	State    State
	Version  Version
	Refcount int64
}

// NewID generates a process-unique identifier string for correlating a
// module's transactions/snapshots in logs and the observer stream.
func NewID() string {
	return uuid.NewString()
}
