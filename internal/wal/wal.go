package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
)

// Config configures a WAL instance.
type Config struct {
	Path       string
	Durability Durability
	// MaxSizeMB rotates the log file once it exceeds this size, mirroring
	// spec's "rotated by size" persisted-state-layout requirement.
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// appendRequest is one producer's enqueued write, routed through a
// single-writer goroutine so LSN assignment and fsync ordering stay
// serialized without every caller taking a mutex around file I/O.
type appendRequest struct {
	kind    OpKind
	txnID   string
	opID    string
	payload []byte
	done    chan appendResult
}

type appendResult struct {
	record Record
	err    error
}

// WAL is the append-only, LSN-ordered write-ahead log. Producers call
// Append concurrently; a single internal goroutine drains them in
// order (§5: "WAL: single writer (flusher); producers enqueue records
// into a lock-free SPSC/MPSC queue").
type WAL struct {
	cfg      Config
	writer   io.WriteCloser
	buffered *bufio.Writer
	syncer   *fileSyncer
	logger   *slog.Logger
	metrics  *metrics.WALMetrics

	lastLSN atomic.Uint64

	queue chan appendRequest
	done  chan struct{}
	wg    sync.WaitGroup
}

// Open creates or appends to the WAL at cfg.Path.
func Open(cfg Config, logger *slog.Logger, m *metrics.WALMetrics) (*WAL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 64
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	w := &WAL{
		cfg:      cfg,
		writer:   writer,
		buffered: bufio.NewWriter(writer),
		syncer:   newFileSyncer(cfg.Path),
		logger:   logger,
		metrics:  m,
		queue:    make(chan appendRequest, 1024),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.drain()

	return w, nil
}

func (w *WAL) drain() {
	defer w.wg.Done()

	for {
		select {
		case req, ok := <-w.queue:
			if !ok {
				return
			}
			w.process(req)
		case <-w.done:
			// Drain remaining queued requests before exiting so no
			// caller blocks forever waiting on `done`.
			for {
				select {
				case req := <-w.queue:
					w.process(req)
				default:
					return
				}
			}
		}
	}
}

func (w *WAL) process(req appendRequest) {
	lsn := w.lastLSN.Add(1)
	rec := newRecord(lsn, req.txnID, req.opID, req.kind, req.payload)

	if err := w.writeRecord(rec); err != nil {
		req.done <- appendResult{record: rec, err: herrors.Wrap(herrors.WalWriteFailed, "appending WAL record", err)}
		return
	}

	shouldSync := w.cfg.Durability == FsyncEveryRecord ||
		(w.cfg.Durability == FsyncOnCommit && (req.kind == OpCommitted || req.kind == OpGlobalCommit))

	if shouldSync {
		if err := w.sync(); err != nil {
			req.done <- appendResult{record: rec, err: herrors.Wrap(herrors.WalWriteFailed, "fsyncing WAL", err)}
			return
		}
	}

	if w.metrics != nil {
		w.metrics.AppendsTotal.Inc()
		w.metrics.AppendBytes.Observe(float64(len(req.payload)))
		w.metrics.LastLSN.Set(float64(lsn))
	}

	req.done <- appendResult{record: rec}
}

func (w *WAL) writeRecord(rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))

	if _, err := w.buffered.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.buffered.Write(buf); err != nil {
		return err
	}
	return w.buffered.Flush()
}

func (w *WAL) sync() error {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		}
	}()

	return w.syncer.Sync()
}

// Append enqueues a record for the given transaction/operation and
// blocks until it has been durably written per the configured
// Durability level. It returns the assigned Record (with its LSN) or a
// WalWriteFailed error.
func (w *WAL) Append(txnID, opID string, kind OpKind, payload []byte) (Record, error) {
	req := appendRequest{kind: kind, txnID: txnID, opID: opID, payload: payload, done: make(chan appendResult, 1)}

	select {
	case w.queue <- req:
	case <-w.done:
		return Record{}, herrors.New(herrors.WalWriteFailed, "WAL is closed")
	}

	result := <-req.done
	return result.record, result.err
}

// LastLSN returns the most recently assigned log sequence number.
func (w *WAL) LastLSN() uint64 {
	return w.lastLSN.Load()
}

// Close stops accepting new appends, drains the queue, and closes the
// backing file.
func (w *WAL) Close() error {
	close(w.done)
	w.wg.Wait()
	if err := w.buffered.Flush(); err != nil {
		return fmt.Errorf("wal: flushing on close: %w", err)
	}
	_ = w.syncer.Close()
	return w.writer.Close()
}
