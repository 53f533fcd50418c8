package events

import (
	"fmt"
	"log/slog"

	"github.com/hotreload/hmr/internal/registry"
)

// Publisher is a thin, typed facade over Bus.Publish so call sites in
// the scheduler/txn/buildpipeline packages don't construct map[string]
// detail payloads inline.
type Publisher struct {
	bus    *Bus
	logger *slog.Logger
}

// NewPublisher wraps bus.
func NewPublisher(bus *Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger.With("component", "events.Publisher")}
}

func (p *Publisher) publish(typ Type, subject string, detail map[string]interface{}) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(New(typ, subject, detail)); err != nil {
		p.logger.Warn("failed to publish event", "type", typ, "error", err)
	}
}

// ReloadStarted announces a module reload has begun.
func (p *Publisher) ReloadStarted(moduleID registry.ID, txnID string) {
	p.publish(TypeReloadStarted, txnID, map[string]interface{}{"module_id": fmt.Sprintf("%d", moduleID)})
}

// ReloadCompleted announces a reload committed successfully.
func (p *Publisher) ReloadCompleted(moduleID registry.ID, txnID string, version string) {
	p.publish(TypeReloadCompleted, txnID, map[string]interface{}{"module_id": fmt.Sprintf("%d", moduleID), "version": version})
}

// ReloadFailed announces a reload was aborted or failed.
func (p *Publisher) ReloadFailed(moduleID registry.ID, txnID string, reason string) {
	p.publish(TypeReloadFailed, txnID, map[string]interface{}{"module_id": fmt.Sprintf("%d", moduleID), "reason": reason})
}

// ConflictDetected announces a version conflict was found during prepare.
func (p *Publisher) ConflictDetected(moduleID registry.ID, txnID string, kind string, severity uint8) {
	p.publish(TypeConflictDetected, txnID, map[string]interface{}{
		"module_id": fmt.Sprintf("%d", moduleID), "kind": kind, "severity": severity,
	})
}

// StateMigrated announces a module's state finished migration.
func (p *Publisher) StateMigrated(moduleID registry.ID, txnID string, snapshotID string) {
	p.publish(TypeStateMigrated, txnID, map[string]interface{}{"module_id": fmt.Sprintf("%d", moduleID), "snapshot_id": snapshotID})
}

// BuildStarted announces a build job was admitted.
func (p *Publisher) BuildStarted(target string) {
	p.publish(TypeBuildStarted, target, nil)
}

// BuildCompleted announces a build job finished successfully.
func (p *Publisher) BuildCompleted(target, artifactPath string, durationSeconds float64) {
	p.publish(TypeBuildCompleted, target, map[string]interface{}{
		"artifact_path": artifactPath, "duration_seconds": durationSeconds,
	})
}

// BuildFailed announces a build job failed.
func (p *Publisher) BuildFailed(target, reason string) {
	p.publish(TypeBuildFailed, target, map[string]interface{}{"reason": reason})
}

// TransactionPrepared announces a transaction reached Prepared.
func (p *Publisher) TransactionPrepared(txnID string) {
	p.publish(TypeTransactionPrepared, txnID, nil)
}

// TransactionCommitted announces a transaction reached Committed.
func (p *Publisher) TransactionCommitted(txnID string) {
	p.publish(TypeTransactionCommitted, txnID, nil)
}

// TransactionAborted announces a transaction reached Aborted.
func (p *Publisher) TransactionAborted(txnID string, reason string) {
	p.publish(TypeTransactionAborted, txnID, map[string]interface{}{"reason": reason})
}
