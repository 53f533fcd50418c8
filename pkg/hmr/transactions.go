package hmr

import (
	"context"

	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/txn"
)

// TransactionHandle is a thin façade over the Transactional Swap
// Engine's *txn.Txn for consumers that want to batch several module
// updates under one commit (§4.3) rather than going through Load.
type TransactionHandle struct {
	t *txn.Txn
	r *Runtime
}

// BeginTransaction starts a transaction of typ under isolation. Pass
// txn.Serializable unless a caller has a specific reason to relax it —
// the runtime itself defaults new reload transactions to Serializable
// (see Config.Options.DefaultIsolation).
func (r *Runtime) BeginTransaction(typ txn.Type, isolation txn.Isolation) *TransactionHandle {
	return &TransactionHandle{t: r.txns.Begin(typ, isolation), r: r}
}

// AddModuleUpdate registers a proposed code-image swap for handle
// within the transaction.
func (h *TransactionHandle) AddModuleUpdate(handle ModuleHandle, version registry.Version, image *registry.CodeImage, stateBytes []byte) error {
	return h.r.txns.AddModuleUpdate(h.t, handle, version, image, stateBytes, len(stateBytes))
}

// AddDependency records that handle's update depends on dep's update
// landing first within the same transaction (used for multi-module
// batches per §4.3 type BatchUpdate/DependencyChain).
func (h *TransactionHandle) AddDependency(handle, dep ModuleHandle) error {
	return h.r.txns.AddDependency(h.t, handle, dep)
}

// DetectConflicts runs conflict detection over every module update
// registered so far, returning the number found.
func (h *TransactionHandle) DetectConflicts() (int, error) {
	return h.r.txns.DetectConflicts(h.t)
}

// ResolveConflicts applies strategy to every detected conflict.
func (h *TransactionHandle) ResolveConflicts(strategy txn.Strategy) int {
	return h.r.txns.ResolveConflicts(h.t, strategy)
}

// Commit runs the two-phase commit protocol to completion, publishing
// TransactionPrepared/TransactionCommitted observer events as it goes.
func (h *TransactionHandle) Commit(ctx context.Context) error {
	return h.r.txns.Commit(ctx, h.t)
}

// Abort rolls the transaction back, restoring every module's pre-image
// state from its retained snapshot.
func (h *TransactionHandle) Abort(ctx context.Context) error {
	return h.r.txns.Abort(ctx, h.t)
}

// State reports the transaction's current lifecycle state.
func (h *TransactionHandle) State() txn.State { return h.t.State() }
