package registry

import (
	"sync"
	"sync/atomic"
)

// ID is a stable numeric Module Identity, assigned at first
// registration and never reused for the lifetime of the process.
type ID uint64

// State is a Module Entry's lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateActive
	StateReloadPending
	StateReloadInProgress
	StateQuarantined
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoading:
		return "Loading"
	case StateActive:
		return "Active"
	case StateReloadPending:
		return "ReloadPending"
	case StateReloadInProgress:
		return "ReloadInProgress"
	case StateQuarantined:
		return "Quarantined"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SecurityContext bounds what a module's code is trusted to do.
type SecurityContext struct {
	Capabilities []string
	MemoryLimit  int64
	TrustLevel   int
}

// Entry is one Module Entry in the Registry — the single place the
// runtime stores a module's current code image, its dependency edges,
// and its lifecycle state. Readers on the hot path take codeImage via
// an atomic.Pointer load (acquire semantics), so a symbol lookup never
// observes a torn or partially-constructed image (§5 ordering
// guarantees); writers serialize per-Entry using mu.
type Entry struct {
	ID   ID
	Name string

	codeImage atomic.Pointer[CodeImage]

	mu                sync.RWMutex
	state             State
	stateSnapshotID   string
	dependencies      map[ID]Version
	dependents        map[ID]struct{}
	refcount          int64
	security          SecurityContext
	lastLoadTimestamp int64
}

// NewEntry creates an Entry in the Unloaded state.
func NewEntry(id ID, name string) *Entry {
	return &Entry{
		ID:           id,
		Name:         name,
		state:        StateUnloaded,
		dependencies: make(map[ID]Version),
		dependents:   make(map[ID]struct{}),
	}
}

// CodeImage returns the entry's currently active code image, or nil if
// none has ever been published. This is the wait-free hot-path read.
func (e *Entry) CodeImage() *CodeImage {
	return e.codeImage.Load()
}

// publish installs img as the entry's current code image with release
// semantics, so any subsequent acquire-load by a reader observes img
// fully constructed. Callers must hold e.mu for write — this is the
// single linearization point for a swap (§4.3).
func (e *Entry) publish(img *CodeImage) *CodeImage {
	prev := e.codeImage.Swap(img)
	return prev
}

// Lock acquires the entry's exclusive writer lock, used by the
// transaction manager to serialize activate/deactivate against this
// entry. Acquisition across multiple entries must go through
// internal/lockset in ascending-ID order to preclude deadlock cycles.
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// State returns the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SetState transitions the entry's lifecycle state. Callers must hold
// the writer lock (Lock/Unlock) for the duration of a multi-field
// mutation; SetState alone takes its own lock for convenience when used
// in isolation.
func (e *Entry) SetState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Dependencies returns a snapshot of the entry's declared dependency set.
func (e *Entry) Dependencies() []ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	deps := make([]ID, 0, len(e.dependencies))
	for id := range e.dependencies {
		deps = append(deps, id)
	}
	return deps
}

// DependencyVersions returns a snapshot of the entry's declared
// dependency set together with the minimum version each dependency
// must be Active at (the version e's code was built against, per
// spec.md §4.2). A zero Version floor means "any Active version
// satisfies the dependency".
func (e *Entry) DependencyVersions() map[ID]Version {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[ID]Version, len(e.dependencies))
	for id, v := range e.dependencies {
		out[id] = v
	}
	return out
}

// AddDependency declares that e requires dep to be Active, at or above
// minVersion, before e can become Active.
func (e *Entry) AddDependency(dep ID, minVersion Version) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dependencies[dep] = minVersion
}

// AddDependent records that dependent requires e.
func (e *Entry) AddDependent(dependent ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dependents[dependent] = struct{}{}
}

// Dependents returns a snapshot of modules that declare e as a dependency.
func (e *Entry) Dependents() []ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	deps := make([]ID, 0, len(e.dependents))
	for id := range e.dependents {
		deps = append(deps, id)
	}
	return deps
}

// Refcount returns the number of active callers currently resolved
// against this entry's symbols.
func (e *Entry) Refcount() int64 {
	return atomic.LoadInt64(&e.refcount)
}

// IncRef increments the caller refcount.
func (e *Entry) IncRef() int64 { return atomic.AddInt64(&e.refcount, 1) }

// DecRef decrements the caller refcount.
func (e *Entry) DecRef() int64 { return atomic.AddInt64(&e.refcount, -1) }

// StateSnapshotID returns the id of the State Snapshot currently
// associated with this module, if any.
func (e *Entry) StateSnapshotID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateSnapshotID
}

// SetStateSnapshotID records which State Snapshot backs this module's
// current state.
func (e *Entry) SetStateSnapshotID(id string) {
	e.mu.Lock()
	e.stateSnapshotID = id
	e.mu.Unlock()
}

// Security returns the entry's security context.
func (e *Entry) Security() SecurityContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.security
}

// SetSecurity sets the entry's security context.
func (e *Entry) SetSecurity(sc SecurityContext) {
	e.mu.Lock()
	e.security = sc
	e.mu.Unlock()
}
