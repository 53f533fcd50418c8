package runtimeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ApplyFunc is notified of a successful config reload so a live
// subsystem (the scheduler's clock, the build pipeline's admission
// gate, the loader's signature policy) can pick up the new values.
// Returning an error fails the reload and triggers a rollback to the
// previous Options.
type ApplyFunc func(old, new Options) error

// ReloadResult reports what a single Coordinator.Reload call did.
type ReloadResult struct {
	Version    int64
	Success    bool
	RolledBack bool
	Changed    []string
	Duration   time.Duration
	Err        error
}

// Coordinator drives a load -> validate -> diff -> apply -> health
// check pipeline for live-reloading select runtime tunables (the
// ones safe to change without restarting the process) without
// disturbing in-flight reload transactions.
type Coordinator struct {
	mu         sync.Mutex
	service    *Service
	configPath string
	applyFns   []ApplyFunc
	version    atomic.Int64
	logger     *slog.Logger
}

// NewCoordinator constructs a Coordinator backed by service, reloading
// from configPath on each Reload call.
func NewCoordinator(service *Service, configPath string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{service: service, configPath: configPath, logger: logger}
}

// OnApply registers fn to run on every successful reload, in
// registration order. Typical subscribers: the scheduler (budget caps,
// adaptive flag), the build pipeline (admission thresholds), the
// loader (signature requirement).
func (c *Coordinator) OnApply(fn ApplyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyFns = append(c.applyFns, fn)
}

// Reload re-reads c.configPath, validates it, diffs it against the
// currently active Options, and — if anything changed — applies it
// through every registered ApplyFunc. Any ApplyFunc error rolls every
// already-applied subscriber back to the old Options.
func (c *Coordinator) Reload(ctx context.Context) (*ReloadResult, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.service.Current().Options

	// Phase 1: load & validate.
	next, err := Load(c.configPath)
	if err != nil {
		c.logger.Error("reload phase 1 (load) failed", "error", err)
		return nil, fmt.Errorf("reload: load failed: %w", err)
	}

	// Phase 2: diff.
	changed := diffFields(old, *next)
	if len(changed) == 0 {
		c.logger.Info("reload: no changes detected")
		return &ReloadResult{Version: c.version.Load(), Success: true, Duration: time.Since(start)}, nil
	}

	// Phase 3: apply.
	applied := 0
	var applyErr error
	for _, fn := range c.applyFns {
		if applyErr = fn(old, *next); applyErr != nil {
			break
		}
		applied++
	}

	if applyErr != nil {
		c.logger.Error("reload phase 3 (apply) failed, rolling back", "error", applyErr, "applied_before_failure", applied)
		for i := 0; i < applied; i++ {
			if rbErr := c.applyFns[i](*next, old); rbErr != nil {
				c.logger.Error("rollback of an already-applied subscriber failed", "index", i, "error", rbErr)
			}
		}
		return &ReloadResult{
			Version:    c.version.Load(),
			Success:    false,
			RolledBack: true,
			Changed:    changed,
			Duration:   time.Since(start),
			Err:        applyErr,
		}, applyErr
	}

	// Phase 4: commit the new snapshot and bump the version.
	version := c.version.Add(1)
	c.service.set(*next, SourceFile, c.configPath)

	c.logger.Info("reload completed", "version", version, "changed", changed, "duration_ms", time.Since(start).Milliseconds())
	return &ReloadResult{Version: version, Success: true, Changed: changed, Duration: time.Since(start)}, nil
}

// diffFields reports the dotted option paths that differ between old
// and next, limited to the fields a live reload is allowed to touch —
// WALPath and MaxConcurrentModules are fixed at process start (the
// registry and WAL are sized and opened once) so they are intentionally
// excluded here even if the file on disk changed them.
func diffFields(old, next Options) []string {
	var changed []string
	if old.CheckIntervalFrames != next.CheckIntervalFrames {
		changed = append(changed, "check_interval_frames")
	}
	if old.MaxFrameBudget != next.MaxFrameBudget {
		changed = append(changed, "max_frame_budget_ns")
	}
	if old.AdaptiveBudgeting != next.AdaptiveBudgeting {
		changed = append(changed, "adaptive_budgeting")
	}
	if old.Build.MaxParallelJobs != next.Build.MaxParallelJobs {
		changed = append(changed, "build.max_parallel_jobs")
	}
	if old.Build.CPULoadThreshold != next.Build.CPULoadThreshold {
		changed = append(changed, "build.cpu_load_threshold")
	}
	if old.Security.RequireSignature != next.Security.RequireSignature {
		changed = append(changed, "security.require_signature")
	}
	if old.SnapshotRetentionCount != next.SnapshotRetentionCount {
		changed = append(changed, "snapshot_retention_count")
	}
	if old.SnapshotRetentionAge != next.SnapshotRetentionAge {
		changed = append(changed, "snapshot_retention_age")
	}
	return changed
}
