// Package events implements the Observer channel (§6): an outbound,
// typed stream of runtime events the core publishes and is otherwise
// unaware of who consumes — dashboards, analytics, compliance
// reporters all subscribe the same way.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies one of the runtime's observable event kinds (§6).
type Type string

const (
	TypeReloadStarted         Type = "reload_started"
	TypeReloadCompleted       Type = "reload_completed"
	TypeReloadFailed          Type = "reload_failed"
	TypeConflictDetected      Type = "conflict_detected"
	TypeStateMigrated         Type = "state_migrated"
	TypeBuildStarted          Type = "build_started"
	TypeBuildCompleted        Type = "build_completed"
	TypeBuildFailed           Type = "build_failed"
	TypeTransactionPrepared   Type = "transaction_prepared"
	TypeTransactionCommitted  Type = "transaction_committed"
	TypeTransactionAborted    Type = "transaction_aborted"
)

// Event is one entry on the observer channel: (ts, module_or_txn_id, detail).
type Event struct {
	Type      Type                   `json:"type"`
	ID        string                 `json:"id"`
	Subject   string                 `json:"subject"` // module_id or txn_id, as a string
	Detail    map[string]interface{} `json:"detail"`
	Timestamp time.Time              `json:"timestamp"`
	Sequence  int64                  `json:"sequence"`
}

// New constructs an Event with a fresh ID and timestamp; Sequence is
// assigned by the Bus at publish time.
func New(typ Type, subject string, detail map[string]interface{}) Event {
	return Event{
		Type:      typ,
		ID:        uuid.NewString(),
		Subject:   subject,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}
