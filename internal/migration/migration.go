// Package migration implements the State Preservation & Migration
// capabilities the core consumes from each module: serialize,
// deserialize and migrate, plus the diffing pass used for observability.
package migration

import (
	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/registry"
)

// Module is the subset of a module's interface table the migration
// engine needs. The core never interprets the bytes these functions
// produce or consume — it only routes them (§4.4).
type Module interface {
	// Serialize is a total function, side-effect-free and deterministic.
	Serialize() ([]byte, error)
	// Deserialize loads state from bytes, failing with herrors.StateCorrupted
	// on checksum mismatch (the caller is expected to have already
	// checksum-verified via state.Snapshot.Plaintext before calling this).
	Deserialize(data []byte) error
	// Migrate transforms bytes captured at `from` into the shape `to`
	// expects. It may return the input unchanged (identity) when from
	// and to differ only in patch/build without a schema change.
	Migrate(from, to registry.Version, data []byte) ([]byte, error)
}

// Migrator drives serialize/deserialize/migrate against a Module on
// behalf of the transaction manager.
type Migrator struct{}

// New creates a Migrator.
func New() *Migrator { return &Migrator{} }

// Preserve captures a module's current state as plaintext bytes, for
// wrapping into a state.Snapshot by the caller.
func (m *Migrator) Preserve(mod Module) ([]byte, error) {
	data, err := mod.Serialize()
	if err != nil {
		return nil, herrors.Wrap(herrors.StateCorrupted, "serializing module state", err)
	}
	return data, nil
}

// Apply migrates data from `from` to `to` and loads it into mod. If
// from equals to, it still round-trips through Migrate so a module
// that wants the identity shortcut in spec §4.4 ("may skip to identity
// when versions differ only in patch without schema change") gets the
// chance to take it, but callers are not required to special-case
// from==to themselves.
func (m *Migrator) Apply(mod Module, from, to registry.Version, data []byte) error {
	migrated, err := mod.Migrate(from, to, data)
	if err != nil {
		return herrors.Wrap(herrors.MigrationImpossible, "migrating module state", err)
	}
	if err := mod.Deserialize(migrated); err != nil {
		return herrors.Wrap(herrors.StateCorrupted, "deserializing migrated state", err)
	}
	return nil
}

// Restore loads data directly into mod without migration, used when
// rolling back to a pre-transaction snapshot.
func (m *Migrator) Restore(mod Module, data []byte) error {
	if err := mod.Deserialize(data); err != nil {
		return herrors.Wrap(herrors.StateCorrupted, "restoring module state", err)
	}
	return nil
}
