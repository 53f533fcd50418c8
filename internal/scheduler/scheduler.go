// Package scheduler implements the Reload Scheduler (§4.1): the single
// per-frame entry point that drains ready build artifacts, drives the
// Transaction Manager through the reload steps a remaining frame budget
// affords, and defers or aborts the rest.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/clock"
	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
	"github.com/hotreload/hmr/internal/migration"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/txn"
)

// ModuleHost resolves a live module instance so the scheduler can
// preserve its current state before handing a transaction to the
// Transaction Manager.
type ModuleHost interface {
	Module(id registry.ID) (migration.Module, bool)
}

// ResolvedArtifact is what an ArtifactResolver turns a finished build
// result into: the module identity, proposed version and loaded code
// image a transaction needs. Determining these from a build target is
// embedder-specific (it depends on how module descriptors are named and
// versioned), so the scheduler takes a callback rather than assuming a
// naming convention.
type ResolvedArtifact struct {
	ModuleID     registry.ID
	Version      registry.Version
	Image        *registry.CodeImage
	Dependencies []registry.ID
}

// ArtifactResolver maps a completed build result to the module it
// updates. Returning an error drops the result for this frame; the
// scheduler logs it and moves on rather than failing the whole batch.
type ArtifactResolver func(res buildpipeline.Result) (ResolvedArtifact, error)

// Config configures a Scheduler.
type Config struct {
	// CheckInterval is the polling period in frames: Tick does work only
	// on frames that are a multiple of it (default 60).
	CheckInterval uint64
	// MaxDrainPerFrame bounds how many ready artifacts are pulled from
	// the Build Pipeline's completed queue in one frame (default 4).
	MaxDrainPerFrame int
	// Isolation is the isolation level new transactions run under. The
	// zero value (ReadUncommitted) is indistinguishable from "unset", so
	// withDefaults promotes it to Serializable, the spec's stated
	// default (§4.3); set RequireReadUncommitted if ReadUncommitted is
	// truly what's wanted.
	Isolation              txn.Isolation
	RequireReadUncommitted bool
}

func (c Config) withDefaults() Config {
	if c.CheckInterval == 0 {
		c.CheckInterval = 60
	}
	if c.MaxDrainPerFrame <= 0 {
		c.MaxDrainPerFrame = 4
	}
	if c.Isolation == txn.ReadUncommitted && !c.RequireReadUncommitted {
		c.Isolation = txn.Serializable
	}
	return c
}

// Scheduler drives reload progress once per simulation frame.
type Scheduler struct {
	cfg      Config
	clock    *clock.Clock
	txns     *txn.Manager
	pipeline *buildpipeline.Pipeline
	hosts    ModuleHost
	resolve  ArtifactResolver
	logger   *slog.Logger
	metrics  *metrics.SchedulerMetrics

	enabled atomic.Bool
	paused  atomic.Bool
}

// New constructs a Scheduler. All dependencies are required except
// logger/metrics, which default to slog.Default()/nil (no metrics).
func New(cfg Config, c *clock.Clock, mgr *txn.Manager, pipeline *buildpipeline.Pipeline, hosts ModuleHost, resolve ArtifactResolver, logger *slog.Logger, m *metrics.SchedulerMetrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		clock:    c,
		txns:     mgr,
		pipeline: pipeline,
		hosts:    hosts,
		resolve:  resolve,
		logger:   logger,
		metrics:  m,
	}
	s.enabled.Store(true)
	return s
}

// Enable turns reload processing on.
func (s *Scheduler) Enable() { s.enabled.Store(true) }

// Disable turns reload processing off; Tick becomes a no-op until Enable.
func (s *Scheduler) Disable() { s.enabled.Store(false) }

// Pause suspends reload processing without losing the enabled flag —
// Tick still polls the interval but does no work.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume lifts a Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Status reports whether the scheduler is currently enabled and paused.
func (s *Scheduler) Status() (enabled, paused bool) {
	return s.enabled.Load(), s.paused.Load()
}

// Tick runs one frame's worth of reload work. frame is the caller's
// monotonically increasing frame counter; the scheduler only does work
// on frames where frame % CheckInterval == 0.
func (s *Scheduler) Tick(ctx context.Context, frame uint64) error {
	if !s.enabled.Load() {
		return herrors.New(herrors.SchedulerDisabled, "scheduler is disabled")
	}
	if s.paused.Load() {
		return nil
	}
	if s.cfg.CheckInterval > 0 && frame%s.cfg.CheckInterval != 0 {
		return nil
	}

	budget, _ := s.clock.BeginFrame(time.Now())
	defer func() {
		s.clock.EndFrame(budget)
		if s.metrics != nil {
			s.metrics.FrameDuration.Observe(budget.Spent().Seconds())
			s.metrics.FrameBudgetRatio.Set(float64(s.clock.CurrentBudget()) / float64(budget.Total()))
		}
	}()

	results := s.drain(s.cfg.MaxDrainPerFrame)
	if len(results) == 0 {
		if s.metrics != nil {
			s.metrics.FramesTotal.WithLabelValues("false").Inc()
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.FramesTotal.WithLabelValues("true").Inc()
	}

	reloaded := 0
	deferred := 0
	aborted := 0

	for _, res := range results {
		stepStart := time.Now()

		if budget.Exhausted() {
			deferred++
			s.requeue(res)
			continue
		}

		estimate := s.pipeline.EstimateDuration(res.Job.Target)
		if estimate > budget.Remaining() {
			// Known-safe to defer: no transaction has been opened yet.
			deferred++
			s.requeue(res)
			continue
		}

		outcome := s.reloadOne(ctx, res, budget)
		budget.Spend(time.Since(stepStart))

		switch outcome {
		case outcomeCommitted:
			reloaded++
		case outcomeAborted:
			aborted++
		case outcomeDeferred:
			deferred++
			s.requeue(res)
		}
	}

	if s.metrics != nil {
		s.metrics.ModulesPerFrame.Observe(float64(reloaded))
		if deferred > 0 {
			s.metrics.FrameBudgetExceed.Add(float64(deferred))
		}
	}
	s.logger.Debug("scheduler tick", "frame", frame, "reloaded", reloaded, "deferred", deferred, "aborted", aborted)
	return nil
}

type outcome int

const (
	outcomeCommitted outcome = iota
	outcomeAborted
	outcomeDeferred
)

// reloadOne begins a transaction for one resolved artifact and runs it
// to completion within whatever remains of budget. A Commit that fails
// with BudgetExceeded or DeadlineExpired is reported as deferred, and
// Tick resubmits the job so the reload is retried on a later frame; if
// the failure came from the Prepare step inside Commit, the Manager has
// already aborted that transaction. The pre-state snapshot taken before
// the timeout is retained by the transaction manager regardless, so no
// module state is lost.
func (s *Scheduler) reloadOne(ctx context.Context, res buildpipeline.Result, budget *clock.Budget) outcome {
	resolved, err := s.resolve(res)
	if err != nil {
		s.logger.Warn("dropping build result: could not resolve artifact", "target", res.Job.Target, "error", err)
		return outcomeAborted
	}

	var stateBytes []byte
	if s.hosts != nil {
		if mod, ok := s.hosts.Module(resolved.ModuleID); ok {
			if data, serr := mod.Serialize(); serr == nil {
				stateBytes = data
			}
		}
	}

	t := s.txns.Begin(txn.SingleModule, s.cfg.Isolation)
	if err := s.txns.AddModuleUpdate(t, resolved.ModuleID, resolved.Version, resolved.Image, stateBytes, len(stateBytes)); err != nil {
		s.logger.Warn("add module update failed", "module_id", resolved.ModuleID, "error", err)
		return outcomeAborted
	}
	for _, dep := range resolved.Dependencies {
		_ = s.txns.AddDependency(t, resolved.ModuleID, dep)
	}

	if _, err := s.txns.DetectConflicts(t); err != nil {
		s.logger.Warn("conflict detection failed", "module_id", resolved.ModuleID, "error", err)
	}
	if len(t.Conflicts()) > 0 {
		s.txns.ResolveConflicts(t, txn.AutoMerge)
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if remaining := budget.Remaining(); remaining > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	if err := s.txns.Commit(stepCtx, t); err != nil {
		if herrors.Is(err, herrors.BudgetExceeded) || herrors.Is(err, herrors.DeadlineExpired) {
			step, _ := t.ResumePoint()
			s.logger.Info("reload deferred by budget exhaustion", "module_id", resolved.ModuleID, "resume_step", step)
			return outcomeDeferred
		}
		s.logger.Warn("commit failed", "module_id", resolved.ModuleID, "error", err)
		_ = s.txns.Abort(ctx, t)
		return outcomeAborted
	}
	return outcomeCommitted
}

// drain pulls up to n completed results from the pipeline, already in
// priority order since higher-priority jobs are dispatched (and
// typically finish) before lower-priority ones; ties are broken by
// arrival order on the channel.
func (s *Scheduler) drain(n int) []buildpipeline.Result {
	out := make([]buildpipeline.Result, 0, n)
	for i := 0; i < n; i++ {
		select {
		case res, ok := <-s.pipeline.Completed():
			if !ok {
				return out
			}
			out = append(out, res)
		default:
			return out
		}
	}
	return out
}

// requeue resubmits a deferred job so the pipeline rebuilds and
// re-offers it next frame; the scheduler itself holds no queue of its
// own between ticks.
func (s *Scheduler) requeue(res buildpipeline.Result) {
	s.pipeline.Submit(res.Job)
}
