// Package wal implements the Write-Ahead Log: a durable, append-only
// sequence of records addressed by LSN, used for crash recovery and
// transaction rollback.
package wal

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// OpKind identifies the kind of operation a Record describes.
type OpKind string

const (
	OpPrepare       OpKind = "Prepare"
	OpStateMigrated OpKind = "StateMigrated"
	OpCommitted     OpKind = "Committed"
	OpAborted       OpKind = "Aborted"
	OpFailed        OpKind = "Failed"
	OpGlobalCommit  OpKind = "GlobalCommit"
	OpGlobalAbort   OpKind = "GlobalAbort"
	OpRollback      OpKind = "Rollback"
)

// Durability selects how aggressively the WAL flushes to the backing
// medium before reporting a write as complete.
type Durability int

const (
	// BufferedOnly never explicitly fsyncs; relies on OS page cache
	// flush timing. Fastest, weakest durability.
	BufferedOnly Durability = iota
	// FsyncOnCommit fsyncs only when a Committed/GlobalCommit record is
	// appended.
	FsyncOnCommit
	// FsyncEveryRecord fsyncs after every single append.
	FsyncEveryRecord
)

// Record is one WAL entry: (lsn, txn_id, ts, op_id, op_kind, payload, checksum).
type Record struct {
	LSN      uint64
	TxnID    string
	Ts       time.Time
	OpID     string
	OpKind   OpKind
	Payload  []byte
	Checksum uint32
}

// checksum computes a simple CRC-like checksum over the record's
// logical fields, sufficient to detect a truncated or corrupted tail
// record during recovery per spec §4.5.
func checksum(lsn uint64, txnID string, opID string, kind OpKind, payload []byte) uint32 {
	h := sha256.New()
	var lsnBuf [8]byte
	binary.BigEndian.PutUint64(lsnBuf[:], lsn)
	h.Write(lsnBuf[:])
	h.Write([]byte(txnID))
	h.Write([]byte(opID))
	h.Write([]byte(kind))
	h.Write(payload)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

func newRecord(lsn uint64, txnID, opID string, kind OpKind, payload []byte) Record {
	return Record{
		LSN:      lsn,
		TxnID:    txnID,
		Ts:       time.Now(),
		OpID:     opID,
		OpKind:   kind,
		Payload:  payload,
		Checksum: checksum(lsn, txnID, opID, kind, payload),
	}
}

// Verify reports whether the record's checksum matches its fields,
// used to detect a truncated or corrupted tail record on replay.
func (r Record) Verify() bool {
	return r.Checksum == checksum(r.LSN, r.TxnID, r.OpID, r.OpKind, r.Payload)
}

func (r Record) String() string {
	return fmt.Sprintf("#%d %s txn=%s op=%s", r.LSN, r.OpKind, r.TxnID, r.OpID)
}
