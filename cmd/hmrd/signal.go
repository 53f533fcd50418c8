package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hotreload/hmr/internal/runtimeconfig"
)

// reloadHandler listens for SIGHUP and drives runtimeconfig.Coordinator.Reload,
// debouncing bursts of signals (e.g. a config-management tool that sends
// SIGHUP to every process in a fleet within the same second).
type reloadHandler struct {
	coordinator *runtimeconfig.Coordinator
	logger      *slog.Logger
	metrics     *reloadMetrics

	debounceWindow time.Duration
	lastReload     atomic.Value // time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sigChan chan os.Signal
}

func newReloadHandler(coordinator *runtimeconfig.Coordinator, logger *slog.Logger, metrics *reloadMetrics) *reloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &reloadHandler{
		coordinator:    coordinator,
		logger:         logger,
		metrics:        metrics,
		debounceWindow: time.Second,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
	}
}

// Start registers for SIGHUP and begins handling reload requests.
func (h *reloadHandler) Start() {
	signal.Notify(h.sigChan, syscall.SIGHUP)
	h.wg.Add(1)
	go h.run()
	h.logger.Info("sighup reload handler started", "debounce_window", h.debounceWindow)
}

// Stop stops accepting signals and waits for in-flight reloads to finish.
func (h *reloadHandler) Stop() {
	signal.Stop(h.sigChan)
	h.cancel()
	h.wg.Wait()
}

func (h *reloadHandler) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.sigChan:
			h.handleSignal()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *reloadHandler) handleSignal() {
	if h.shouldDebounce() {
		h.logger.Debug("sighup reload debounced")
		return
	}
	h.lastReload.Store(time.Now())

	const source = "sighup"
	start := time.Now()
	reloadCtx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	result, err := h.coordinator.Reload(reloadCtx)
	duration := time.Since(start)
	now := float64(time.Now().Unix())

	if err != nil {
		h.metrics.recordFailure(source, duration.Seconds(), now)
		h.logger.Error("config reload failed", "error", err, "duration_ms", duration.Milliseconds())
		return
	}

	h.metrics.recordSuccess(source, duration.Seconds(), now)
	h.logger.Info("config reload completed",
		"version", result.Version,
		"changed", result.Changed,
		"duration_ms", duration.Milliseconds(),
	)
}

func (h *reloadHandler) shouldDebounce() bool {
	v := h.lastReload.Load()
	if v == nil {
		return false
	}
	return time.Since(v.(time.Time)) < h.debounceWindow
}
