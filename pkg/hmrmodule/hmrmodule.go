// Package hmrmodule is the contract every hot-reloadable module must
// satisfy: the interface table a module's entry symbol returns, plus
// optional reload lifecycle callback interfaces. The runtime in this
// repository does not call those callbacks.
//
// The runtime never interprets a module's state bytes or business
// logic — it only routes calls through this interface and watches the
// error it gets back.
package hmrmodule

import (
	"context"

	"github.com/hotreload/hmr/internal/registry"
)

// Version re-exports registry.Version so module authors don't need to
// import an internal package to declare their own version.
type Version = registry.Version

// Module is the full interface table a module's entry symbol returns
// (§6 "Consumed from modules"). init/shutdown manage the module's own
// resources; serialize/deserialize/migrate back the State Preservation
// & Migration layer; declared_version/declared_dependencies let the
// registry validate a proposed swap before it ever reaches a
// transaction.
type Module interface {
	// Init is called once, when the module is registered with the runtime.
	Init(ctx context.Context) error
	// Shutdown is called once, when the module is permanently unloaded
	// (not on every reload — a reload replaces the code image, it does
	// not tear the module down).
	Shutdown(ctx context.Context) error

	// Serialize is a total, side-effect-free, deterministic function
	// capturing the module's current state as bytes.
	Serialize() ([]byte, error)
	// Deserialize loads state from bytes previously produced by
	// Serialize (or by Migrate targeting this module's current version).
	Deserialize(data []byte) error
	// Migrate transforms bytes captured at `from` into the shape this
	// module's `to` version expects. A module whose schema didn't
	// change between from and to may return data unchanged.
	Migrate(from, to Version, data []byte) ([]byte, error)

	// DeclaredVersion is the version this code image claims to be.
	// hmrd passes it as the version of the initial load; the loader does
	// not cross-check it against any other version metadata.
	DeclaredVersion() Version
	// DeclaredDependencies names the other modules (by registered name)
	// this module requires to be Active before it can itself become
	// Active.
	DeclaredDependencies() []string
}

// ReloadPreparedHook is an optional callback a module may implement for
// the point where its proposed update has survived conflict detection
// but is not yet committed. The runtime does not call it, so it cannot
// veto or abort a transaction.
type ReloadPreparedHook interface {
	OnReloadPrepared(ctx context.Context) error
}

// ReloadCommittedHook is an optional callback for the point where a
// module's new code image is live. The runtime does not call it.
type ReloadCommittedHook interface {
	OnReloadCommitted(ctx context.Context)
}

// ReloadAbortedHook is an optional callback for the point where a
// prepared reload involving this module is rolled back. The runtime
// does not call it.
type ReloadAbortedHook interface {
	OnReloadAborted(ctx context.Context, reason string)
}

// EntryPointName is the single exported symbol name the loader's
// EntrySymbolResolver looks for in a built artifact (§4.2). An
// embedder supplying its own resolver (Go plugin, WASM export table,
// in-process registry) is expected to honor this name so modules built
// against this package are portable across hosting mechanisms.
const EntryPointName = "HMRModuleEntry"

// EntryFunc is the signature of the symbol named EntryPointName: it
// constructs and returns this build's Module implementation.
type EntryFunc func() (Module, error)
