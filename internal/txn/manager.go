package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hotreload/hmr/internal/events"
	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/lockset"
	"github.com/hotreload/hmr/internal/metrics"
	"github.com/hotreload/hmr/internal/migration"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/state"
	"github.com/hotreload/hmr/internal/wal"
)

// ModuleHost resolves the migration.Module behind a registry.ID, so the
// transaction manager can drive serialize/migrate/deserialize without
// depending on how the embedder represents live module instances.
type ModuleHost interface {
	Module(id registry.ID) (migration.Module, bool)
}

// Manager is the Transactional Swap Engine: it owns the single
// linearization point for registry swaps, drives the WAL before every
// observable mutation (invariant 4), and enforces ascending-module-id
// lock acquisition across a batch (§5).
type Manager struct {
	registry *registry.Registry
	store    state.Store
	log      *wal.WAL
	migrator *migration.Migrator
	locks    *lockset.Set
	hosts    ModuleHost
	logger   *slog.Logger
	metrics  *metrics.TxnMetrics
	events   *events.Publisher

	mu      sync.RWMutex
	active  map[string]*Txn
	writeTS atomic.Int64

	phase1Timeout time.Duration
}

// Config configures a Manager.
type Config struct {
	Phase1Timeout time.Duration
}

// NewManager constructs a Manager. hosts may be nil if the embedder has
// no serialize/migrate capability (state preservation then becomes a
// pass-through of raw bytes). pub may be nil if no observer channel is
// wired up.
func NewManager(cfg Config, reg *registry.Registry, store state.Store, log *wal.WAL, hosts ModuleHost, pub *events.Publisher, logger *slog.Logger, m *metrics.TxnMetrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Phase1Timeout <= 0 {
		cfg.Phase1Timeout = 2 * time.Second
	}
	return &Manager{
		registry:      reg,
		store:         store,
		log:           log,
		migrator:      migration.New(),
		locks:         lockset.New(logger),
		hosts:         hosts,
		logger:        logger,
		metrics:       m,
		events:        pub,
		active:        make(map[string]*Txn),
		phase1Timeout: cfg.Phase1Timeout,
	}
}

// Begin starts a new transaction.
func (m *Manager) Begin(typ Type, isolation Isolation) *Txn {
	id := uuid.NewString()
	readTS := time.Now().UnixNano()
	t := newTxn(id, typ, isolation, readTS)

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveTxns.Inc()
	}
	return t
}

// AddModuleUpdate registers a proposed update for moduleID within txn.
func (m *Manager) AddModuleUpdate(t *Txn, moduleID registry.ID, newVersion registry.Version, image *registry.CodeImage, data []byte, size int) error {
	if t.state != StateActive {
		return herrors.New(herrors.InvalidArgument, "cannot add update to a non-active transaction")
	}
	if _, exists := t.updates[moduleID]; !exists {
		t.order = append(t.order, moduleID)
	}
	t.updates[moduleID] = &ModuleUpdate{ModuleID: moduleID, NewVersion: newVersion, Image: image, StateBytes: data, Size: size}
	return nil
}

// AddStatePreservation attaches pre-captured state bytes to an existing
// module update (used when the caller captures state separately from
// the code image swap).
func (m *Manager) AddStatePreservation(t *Txn, moduleID registry.ID, stateBytes []byte, size int) error {
	upd, ok := t.updates[moduleID]
	if !ok {
		return herrors.New(herrors.InvalidArgument, "no update registered for module")
	}
	upd.StateBytes = stateBytes
	upd.Size = size
	return nil
}

// AddDependency records that moduleID's update depends on dep also
// being part of the committed set with a satisfying version.
func (m *Manager) AddDependency(t *Txn, moduleID, dep registry.ID) error {
	t.dependencies[moduleID] = append(t.dependencies[moduleID], dep)
	return nil
}

// DetectConflicts compares every proposed update's version against the
// module's currently active version, recording Conflict entries on t.
func (m *Manager) DetectConflicts(t *Txn) (int, error) {
	t.conflicts = t.conflicts[:0]

	for _, moduleID := range t.order {
		upd := t.updates[moduleID]
		entry, ok := m.registry.Lookup(moduleID)
		if !ok {
			continue
		}
		img := entry.CodeImage()
		if img == nil {
			continue
		}

		for _, c := range detectModuleConflicts(moduleID, img.Version, upd.NewVersion) {
			c.ID = uuid.NewString()
			t.conflicts = append(t.conflicts, c)
			if m.metrics != nil {
				m.metrics.ConflictsTotal.WithLabelValues(c.Kind.String()).Inc()
			}
			if m.events != nil {
				m.events.ConflictDetected(moduleID, t.ID, c.Kind.String(), c.Severity)
			}
		}
	}

	if _, err := m.detectDependencyViolations(t); err != nil {
		return len(t.conflicts), err
	}

	return len(t.conflicts), nil
}

func (m *Manager) detectDependencyViolations(t *Txn) (int, error) {
	count := 0
	for moduleID, deps := range t.dependencies {
		for _, dep := range deps {
			if _, inBatch := t.updates[dep]; inBatch {
				continue
			}
			entry, ok := m.registry.Lookup(dep)
			if !ok || entry.State() != registry.StateActive {
				t.conflicts = append(t.conflicts, Conflict{
					ID: uuid.NewString(), ModuleID: moduleID, Kind: DependencyViolation,
					Severity: 255, AutoResolvable: false,
					Location: fmt.Sprintf("module %d depends on inactive module %d", moduleID, dep),
				})
				count++
			}
		}
	}
	return count, nil
}

// ResolveConflicts applies strategy to every unresolved conflict on t,
// returning how many were resolved.
func (m *Manager) ResolveConflicts(t *Txn, strategy Strategy) int {
	resolved := 0
	for i := range t.conflicts {
		c := &t.conflicts[i]
		if c.Resolved {
			continue
		}
		if resolvable(*c, strategy) {
			c.Resolved = true
			c.StrategyHint = strategy
			resolved++
		}
	}
	return resolved
}

// unresolvedConflicts reports whether t has any conflict left unresolved.
func (t *Txn) unresolvedConflicts() bool {
	for _, c := range t.conflicts {
		if !c.Resolved {
			return true
		}
	}
	return false
}

// ThreeWayMerge resolves base/current/new bytes by routing through the
// module's own migrate function — this spec does not prescribe a
// byte-level merge algorithm (§9 Open Question resolution: merges are
// routed through module-provided migrate, not merged at the byte level).
func (m *Manager) ThreeWayMerge(moduleID registry.ID, base, current, newBytes []byte, from, to registry.Version) ([]byte, error) {
	if m.hosts == nil {
		return nil, herrors.New(herrors.MigrationImpossible, "no module host configured for three-way merge")
	}
	mod, ok := m.hosts.Module(moduleID)
	if !ok {
		return nil, herrors.New(herrors.NotFound, "module not found for three-way merge")
	}
	merged, err := mod.Migrate(from, to, newBytes)
	if err != nil {
		return nil, herrors.Wrap(herrors.MigrationImpossible, "three-way merge via module migrate", err)
	}
	return merged, nil
}

// topoOrder returns t's module update IDs in dependency order so that
// within a batch, modules commit after their dependencies (§4.3 tie-breaks).
func (t *Txn) topoOrder() ([]registry.ID, error) {
	visited := make(map[registry.ID]int) // 0=unvisited,1=visiting,2=done
	var order []registry.ID

	var visit func(id registry.ID) error
	visit = func(id registry.ID) error {
		switch visited[id] {
		case 1:
			return herrors.New(herrors.CyclicDependency, fmt.Sprintf("cycle detected at module %d", id))
		case 2:
			return nil
		}
		visited[id] = 1
		for _, dep := range t.dependencies[id] {
			if _, inBatch := t.updates[dep]; inBatch {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		visited[id] = 2
		order = append(order, id)
		return nil
	}

	ids := append([]registry.ID(nil), t.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Prepare runs phase 1 of the commit protocol for every module update
// in t: snapshot pre-state, migrate to post-state, and record it in
// the WAL, without yet swapping the registry. Returns an error if any
// participant fails, in which case the caller should Abort.
func (m *Manager) Prepare(ctx context.Context, t *Txn) error {
	if t.unresolvedConflicts() {
		return herrors.New(herrors.ConflictDetected, "transaction has unresolved conflicts")
	}
	if t.state != StateActive {
		return herrors.New(herrors.InvalidArgument, "transaction is not Active")
	}
	t.state = StatePreparing

	if m.events != nil {
		for _, moduleID := range t.order {
			m.events.ReloadStarted(moduleID, t.ID)
		}
	}

	order, err := t.topoOrder()
	if err != nil {
		t.state = StateFailed
		return err
	}

	if len(order) > 1 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.phase1Timeout)
		defer cancel()
	}

	release, err := m.locks.AcquireAll(ctx, t.ID, toLockIDs(order))
	if err != nil {
		t.state = StateFailed
		return herrors.Wrap(herrors.Deadlock, "acquiring module locks", err)
	}
	defer release()

	for _, moduleID := range order {
		upd := t.updates[moduleID]

		if ctx.Err() != nil {
			t.state = StateFailed
			return herrors.Wrap(herrors.DeadlineExpired, "phase 1 prepare timed out", ctx.Err())
		}

		if _, err := m.log.Append(t.ID, fmt.Sprintf("prepare-%d", moduleID), wal.OpPrepare, upd.StateBytes); err != nil {
			t.state = StateFailed
			return err
		}
		t.setResumePoint(StepSnapshotTaken, moduleID)

		preSnap, err := m.preserveState(ctx, moduleID, upd)
		if err != nil {
			t.state = StateFailed
			return err
		}
		upd.preState = preSnap
		t.checkpoints = append(t.checkpoints, Checkpoint{ID: uuid.NewString(), ModuleID: moduleID, SnapshotID: preSnap.ID})

		postSnap, err := m.migrateState(ctx, moduleID, upd, preSnap)
		if err != nil {
			t.state = StateFailed
			return err
		}
		upd.postState = postSnap
		t.setResumePoint(StepMigrated, moduleID)

		if _, err := m.log.Append(t.ID, fmt.Sprintf("migrated-%d", moduleID), wal.OpStateMigrated, []byte(postSnap.ID)); err != nil {
			t.state = StateFailed
			return err
		}
		if m.events != nil {
			m.events.StateMigrated(moduleID, t.ID, postSnap.ID)
		}
	}

	t.state = StatePrepared
	if m.events != nil {
		m.events.TransactionPrepared(t.ID)
	}
	return nil
}

func (m *Manager) preserveState(ctx context.Context, moduleID registry.ID, upd *ModuleUpdate) (*state.Snapshot, error) {
	snap, err := state.NewSnapshot(uuid.NewString(), moduleID, upd.NewVersion, upd.StateBytes)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, snap); err != nil {
		return nil, herrors.Wrap(herrors.StateCorrupted, "persisting pre-state snapshot", err)
	}
	return snap, nil
}

func (m *Manager) migrateState(ctx context.Context, moduleID registry.ID, upd *ModuleUpdate, pre *state.Snapshot) (*state.Snapshot, error) {
	plaintext, err := pre.Plaintext()
	if err != nil {
		return nil, err
	}

	migrated := plaintext
	if m.hosts != nil {
		if mod, ok := m.hosts.Module(moduleID); ok {
			entry, _ := m.registry.Lookup(moduleID)
			from := registry.Version{}
			if entry != nil {
				if img := entry.CodeImage(); img != nil {
					from = img.Version
				}
			}
			migrated, err = mod.Migrate(from, upd.NewVersion, plaintext)
			if err != nil {
				return nil, herrors.Wrap(herrors.MigrationImpossible, "migrating module state", err)
			}
		}
	}

	post, err := state.NewSnapshot(uuid.NewString(), moduleID, upd.NewVersion, migrated)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, post); err != nil {
		return nil, herrors.Wrap(herrors.StateCorrupted, "persisting post-state snapshot", err)
	}
	return post, nil
}

// Commit runs phase 2 of the commit protocol. A transaction of any type
// that is still Active is first run through Prepare (and aborted if
// Prepare fails), so Prepare then swap can happen in one call; a
// transaction that is neither Active nor Prepared is rejected.
func (m *Manager) Commit(ctx context.Context, t *Txn) error {
	if t.state == StateActive {
		if err := m.Prepare(ctx, t); err != nil {
			_ = m.Abort(ctx, t)
			return err
		}
	}
	if t.state != StatePrepared {
		return herrors.New(herrors.InvalidArgument, "transaction is not Prepared")
	}

	t.state = StateCommitting

	order, err := t.topoOrder()
	if err != nil {
		t.state = StateFailed
		return err
	}

	release, err := m.locks.AcquireAll(ctx, t.ID, toLockIDs(order))
	if err != nil {
		t.state = StateFailed
		return herrors.Wrap(herrors.Deadlock, "acquiring module locks for commit", err)
	}
	defer release()

	commitKind := wal.OpCommitted
	if len(order) > 1 {
		commitKind = wal.OpGlobalCommit
	}

	for _, moduleID := range order {
		upd := t.updates[moduleID]

		prev, err := m.registry.Activate(moduleID, upd.Image)
		if err != nil {
			t.state = StateFailed
			return err
		}
		if prev != nil {
			if prev.Release() == 0 {
				// No remaining owners; the loader's content-hash cache
				// keeps a reference alive if the artifact is identical
				// to a future rebuild, so there is nothing further to do.
			}
		}
		t.setResumePoint(StepSwapped, moduleID)

		if entry, ok := m.registry.Lookup(moduleID); ok {
			entry.SetStateSnapshotID(upd.postState.ID)
		}
	}

	if _, err := m.log.Append(t.ID, "commit", commitKind, nil); err != nil {
		t.state = StateFailed
		return err
	}
	t.setResumePoint(StepCommittedLog, 0)

	t.state = StateCommitted
	if m.events != nil {
		m.events.TransactionCommitted(t.ID)
		for _, moduleID := range order {
			m.events.ReloadCompleted(moduleID, t.ID, t.updates[moduleID].NewVersion.String())
		}
	}
	m.finish(t, "committed")
	return nil
}

// Abort transitions t to Aborted, restoring every participant's
// pre-state snapshot if any work had begun.
func (m *Manager) Abort(ctx context.Context, t *Txn) error {
	if t.state.Terminal() {
		return nil
	}
	t.state = StateAborting

	for _, moduleID := range t.order {
		upd := t.updates[moduleID]
		if upd.preState != nil && m.hosts != nil {
			if mod, ok := m.hosts.Module(moduleID); ok {
				if pre, err := upd.preState.Plaintext(); err == nil {
					_ = mod.Deserialize(pre)
				}
			}
		}
	}

	if _, err := m.log.Append(t.ID, "abort", wal.OpAborted, nil); err != nil {
		t.state = StateFailed
		m.finish(t, "failed")
		return err
	}

	t.state = StateAborted
	if m.events != nil {
		m.events.TransactionAborted(t.ID, "conflict or prepare failure")
		for _, moduleID := range t.order {
			m.events.ReloadFailed(moduleID, t.ID, "transaction aborted")
		}
	}
	m.finish(t, "aborted")
	return herrors.New(herrors.ConflictUnresolved, "transaction aborted")
}

// RollbackToCheckpoint restores the module state captured at checkpoint.
func (m *Manager) RollbackToCheckpoint(ctx context.Context, t *Txn, checkpointID string) error {
	var cp *Checkpoint
	for i := range t.checkpoints {
		if t.checkpoints[i].ID == checkpointID {
			cp = &t.checkpoints[i]
			break
		}
	}
	if cp == nil {
		return herrors.New(herrors.NotFound, "checkpoint not found")
	}

	snap, err := m.store.Get(ctx, cp.SnapshotID)
	if err != nil {
		return err
	}
	plaintext, err := snap.Plaintext()
	if err != nil {
		return err
	}

	if m.hosts != nil {
		if mod, ok := m.hosts.Module(cp.ModuleID); ok {
			if err := mod.Deserialize(plaintext); err != nil {
				return herrors.Wrap(herrors.StateCorrupted, "restoring checkpoint", err)
			}
		}
	}

	if _, err := m.log.Append(t.ID, fmt.Sprintf("rollback-%d", cp.ModuleID), wal.OpRollback, []byte(cp.SnapshotID)); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RollbacksTotal.WithLabelValues("checkpoint").Inc()
	}
	return nil
}

func (m *Manager) finish(t *Txn, outcome string) {
	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveTxns.Dec()
		m.metrics.CommitsTotal.WithLabelValues(outcome).Inc()
	}
}

func toLockIDs(ids []registry.ID) []lockset.ID {
	out := make([]lockset.ID, len(ids))
	for i, id := range ids {
		out[i] = lockset.ID(id)
	}
	return out
}
