// Package txn implements the Transactional Swap Engine: ACID
// transactions over one or more module updates, conflict detection and
// resolution, three-way merge via module-provided migration, and the
// two-phase commit protocol for multi-module batches.
package txn

import (
	"time"

	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/state"
)

// Type classifies the scope of a transaction.
type Type int

const (
	SingleModule Type = iota
	DependencyChain
	GlobalState
	SchemaMigration
	BatchUpdate
)

// Isolation is the MVCC isolation level a transaction reads under.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	RepeatableRead
	Serializable // default
)

// State is a transaction's lifecycle state (§4.3).
type State int

const (
	StateActive State = iota
	StatePreparing
	StatePrepared
	StateCommitting
	StateCommitted
	StateAborting
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StatePreparing:
		return "Preparing"
	case StatePrepared:
		return "Prepared"
	case StateCommitting:
		return "Committing"
	case StateCommitted:
		return "Committed"
	case StateAborting:
		return "Aborting"
	case StateAborted:
		return "Aborted"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted || s == StateFailed
}

// ResumeStep names a point in the single-module commit protocol (§4.3)
// a transaction can be safely paused at between scheduler frames.
type ResumeStep int

const (
	StepNotStarted ResumeStep = iota
	StepSnapshotTaken
	StepMigrated
	StepSwapped
	StepCommittedLog
)

// ModuleUpdate is one module's proposed change within a transaction.
type ModuleUpdate struct {
	ModuleID    registry.ID
	NewVersion  registry.Version
	Image       *registry.CodeImage
	StateBytes  []byte
	Size        int

	// preState is the pre-image snapshot captured at Prepare time,
	// retained for rollback per invariant "pre-image of an active
	// transaction is retained until that transaction terminates".
	preState *state.Snapshot
	// postState is the migrated post-image snapshot written at Prepare.
	postState *state.Snapshot
}

// Checkpoint identifies a point a transaction can be rolled back to.
type Checkpoint struct {
	ID         string
	ModuleID   registry.ID
	SnapshotID string
}

// Txn is a Transaction Context (§3): (txn_id, type, state, isolation,
// read_ts, write_ts, operations, dependencies, conflicts, snapshots,
// mvcc_versions, rollback_log).
type Txn struct {
	ID        string
	Type      Type
	Isolation Isolation
	Deadline  time.Time

	state State

	readTS  int64
	writeTS int64

	updates      map[registry.ID]*ModuleUpdate
	order        []registry.ID // insertion order, used to derive topo order
	dependencies map[registry.ID][]registry.ID

	conflicts   []Conflict
	checkpoints []Checkpoint
	resumeStep  ResumeStep
	resumeModule registry.ID

	createdAt time.Time
}

func newTxn(id string, typ Type, isolation Isolation, readTS int64) *Txn {
	return &Txn{
		ID:           id,
		Type:         typ,
		Isolation:    isolation,
		state:        StateActive,
		readTS:       readTS,
		updates:      make(map[registry.ID]*ModuleUpdate),
		dependencies: make(map[registry.ID][]registry.ID),
		createdAt:    time.Now(),
	}
}

// State returns the transaction's current lifecycle state.
func (t *Txn) State() State { return t.state }

// Updates returns the module updates registered on this transaction, in
// the order they were added.
func (t *Txn) Updates() []*ModuleUpdate {
	out := make([]*ModuleUpdate, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.updates[id])
	}
	return out
}

// Conflicts returns the conflicts detected by the last DetectConflicts call.
func (t *Txn) Conflicts() []Conflict { return t.conflicts }

// ResumePoint returns where a multi-frame transaction should resume
// from, per the scheduler's step-boundary yielding (§4.1 step 6, §9
// "Coroutine-like multi-frame resumption").
func (t *Txn) ResumePoint() (ResumeStep, registry.ID) {
	return t.resumeStep, t.resumeModule
}

func (t *Txn) setResumePoint(step ResumeStep, moduleID registry.ID) {
	t.resumeStep = step
	t.resumeModule = moduleID
}

// DeadlineExpired reports whether the transaction has passed its deadline.
func (t *Txn) DeadlineExpired() bool {
	return !t.Deadline.IsZero() && time.Now().After(t.Deadline)
}
