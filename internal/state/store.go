package state

import (
	"context"
	"time"

	"github.com/hotreload/hmr/internal/registry"
)

// Store is the State Store contract: Snapshots are written once and
// read many times; retention/GC is driven by RetentionPolicy, not by
// callers deleting snapshots directly.
type Store interface {
	// Put durably records snap. Implementations must not return before
	// the snapshot is at least as durable as the backing medium allows
	// (the in-memory backend is durable only for the process lifetime;
	// the sqlite backend fsyncs per its journal mode).
	Put(ctx context.Context, snap *Snapshot) error

	// Get retrieves a snapshot by id.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// Latest returns the most recently created snapshot for moduleID,
	// or ErrNotFound if none exists.
	Latest(ctx context.Context, moduleID registry.ID) (*Snapshot, error)

	// Lineage returns every snapshot for moduleID ordered oldest-first,
	// used by three-way merge to discover a common ancestor.
	Lineage(ctx context.Context, moduleID registry.ID) ([]*Snapshot, error)

	// GC deletes snapshots not covered by RetentionPolicy and not
	// referenced by any still-live id in keepIDs (typically snapshots
	// referenced by an Active/Prepared transaction).
	GC(ctx context.Context, policy RetentionPolicy, keepIDs map[string]struct{}) (deleted int, err error)

	// Close releases any resources held by the store.
	Close() error
}

// RetentionPolicy bounds how many / how old snapshots the GC keeps
// per module, beyond the minimum mandated by in-flight transactions.
type RetentionPolicy struct {
	Count int
	Age   time.Duration
}

// DefaultRetentionPolicy keeps the last 10 snapshots per module for up
// to 24 hours.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{Count: 10, Age: 24 * time.Hour}
}
