// Package watcher wraps fsnotify with per-path debouncing so a module's
// build is triggered once per burst of editor saves rather than once per
// individual filesystem event.
package watcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hotreload/hmr/internal/metrics"
)

// Op describes the kind of change observed for a path.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event is a debounced change notification for a single source path.
type Event struct {
	Path string
	Op   Op
	// Coalesced is how many raw fsnotify events were folded into this one.
	Coalesced int
}

// Watcher watches a set of directories and emits debounced Events.
type Watcher struct {
	fs     *fsnotify.Watcher
	logger *slog.Logger
	debounce time.Duration
	metrics  *metrics.BuildMetrics

	out chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

type pendingEvent struct {
	op        Op
	coalesced int
}

// Config configures a Watcher.
type Config struct {
	// Debounce is the quiet period before pending events are emitted.
	// Events are coalesced per path, and one shared timer, reset by an
	// event on any watched path, flushes all pending paths together once
	// Debounce passes with no new event (default 50ms). Each path is thus
	// emitted at least Debounce after its own last event.
	Debounce time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.BuildMetrics
}

// New creates a Watcher. Paths must be added with Add before Run is called.
func New(cfg Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Watcher{
		fs:       fw,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
		metrics:  cfg.Metrics,
		out:      make(chan Event, 256),
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}, nil
}

// Add starts watching the given path (file or directory).
func (w *Watcher) Add(path string) error {
	return w.fs.Add(path)
}

// Remove stops watching the given path.
func (w *Watcher) Remove(path string) error {
	return w.fs.Remove(path)
}

// Events returns the channel of debounced events.
func (w *Watcher) Events() <-chan Event {
	return w.out
}

// Run consumes raw fsnotify events until Close is called. Call it in its
// own goroutine.
func (w *Watcher) Run() {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) {
	var op Op
	if ev.Op&fsnotify.Create != 0 {
		op |= OpCreate
	}
	if ev.Op&fsnotify.Write != 0 {
		op |= OpWrite
	}
	if ev.Op&fsnotify.Remove != 0 {
		op |= OpRemove
	}
	if ev.Op&fsnotify.Rename != 0 {
		op |= OpRename
	}
	if ev.Op&fsnotify.Chmod != 0 {
		op |= OpChmod
	}
	if op == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[ev.Name]; ok {
		p.op |= op
		p.coalesced++
		if w.metrics != nil {
			w.metrics.DebouncedEvents.Inc()
		}
	} else {
		w.pending[ev.Name] = &pendingEvent{op: op, coalesced: 1}
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*pendingEvent)
	w.timer = nil
	w.mu.Unlock()

	for path, p := range pending {
		select {
		case w.out <- Event{Path: path, Op: p.op, Coalesced: p.coalesced}:
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fs.Close()
	close(w.out)
	return err
}
