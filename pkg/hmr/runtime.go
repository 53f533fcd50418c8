// Package hmr is the public Runtime API (§6 "Exposed to consumers"):
// the façade a simulation host, dashboard or CLI drives to initialize
// the hot-reload core, tick it once per frame, and load/unload/resolve
// modules against it. Everything it does is delegation — the actual
// scheduling, transaction and storage logic lives in internal/.
package hmr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/clock"
	"github.com/hotreload/hmr/internal/events"
	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/runtimeconfig"
	"github.com/hotreload/hmr/internal/scheduler"
	"github.com/hotreload/hmr/internal/state"
	"github.com/hotreload/hmr/internal/txn"
	"github.com/hotreload/hmr/internal/wal"
)

// Config wires the Runtime's internal dependencies. Options carries
// the spec's configuration table (§6); the rest are embedder-specific
// mechanisms the core deliberately has no opinion about.
type Config struct {
	Options runtimeconfig.Options

	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// Registerer defaults to prometheus.DefaultRegisterer if nil.
	Registerer prometheus.Registerer

	// Resolve turns raw artifact bytes into a module's exported symbol
	// table. Required — this is the one piece of "how code actually
	// gets loaded" the core cannot supply itself (dlopen, Go plugin,
	// WASM instantiation, or an in-process lookup table are all valid).
	Resolve registry.EntrySymbolResolver
	// Build produces an artifact for a queued Job. Required.
	Build buildpipeline.Builder
	// ResolveArtifact maps a finished build result to the module it
	// updates. If nil, defaultArtifactResolver is used, which treats
	// Job.Target as a registered module name and bumps the Build
	// component of that module's current version by one.
	ResolveArtifact scheduler.ArtifactResolver
	// LoadSampler reports current CPU load in [0,1] for the build
	// admission gate; defaults to always-0 (no throttling) if nil.
	LoadSampler buildpipeline.LoadSampler

	// SchedulerConfig overrides the scheduler's check interval / drain
	// size; CheckIntervalFrames from Options is used if CheckInterval
	// is left zero here.
	SchedulerConfig scheduler.Config
	// ClockConfig overrides the adaptive frame-budget scaler; MaxFrameBudget
	// from Options seeds BaseBudget if ClockConfig.BaseBudget is zero.
	ClockConfig clock.Config
}

// Runtime is the hot-reload core: one Registry, one Transaction
// Manager, one Build Pipeline, one Reload Scheduler and the Write-Ahead
// Log/State Store backing them, wired together and exposed as the
// operations in spec §6.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	registry *registry.Registry
	loader   *registry.Loader
	store    state.Store
	walog    *wal.WAL
	txns     *txn.Manager
	pipeline *buildpipeline.Pipeline
	sched    *scheduler.Scheduler
	clock    *clock.Clock
	bus      *events.Bus
	pub      *events.Publisher
	hosts    *hostRegistry

	configSvc   *runtimeconfig.Service
	coordinator *runtimeconfig.Coordinator

	defaultIsolation txn.Isolation

	frame uint64
}

// New wires up a Runtime from cfg. The returned Runtime's background
// goroutines (build pipeline dispatch, event bus dispatch) are started;
// call Shutdown to stop them.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Resolve == nil {
		return nil, herrors.New(herrors.InvalidArgument, "hmr: Config.Resolve is required")
	}
	if cfg.Build == nil {
		return nil, herrors.New(herrors.InvalidArgument, "hmr: Config.Build is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := metrics.NewRegistry(reg)

	opts := cfg.Options

	moduleRegistry := registry.New(opts.MaxConcurrentModules, logger, m.ModuleRegistry())

	loader, err := registry.NewLoader(registry.LoaderConfig{
		RequireSignature: opts.Security.RequireSignature,
		CacheSize:        32,
	}, cfg.Resolve, logger, m.ModuleRegistry())
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(ctx, state.Config{
		Backend:      state.BackendSQLite,
		SQLitePath:   filepath.Join(filepath.Dir(opts.WALPath), "snapshots", "state.db"),
		RetryMetrics: m.Retry(),
	}, logger)
	if err != nil {
		return nil, err
	}

	walog, err := wal.Open(wal.Config{
		Path:       opts.WALPath,
		Durability: opts.Durability(),
		MaxSizeMB:  64,
		MaxBackups: 5,
		Compress:   true,
	}, logger, m.WAL())
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(256, logger, m.Events())
	bus.Start(ctx)
	pub := events.NewPublisher(bus, logger)

	hosts := newHostRegistry()

	txMgr := txn.NewManager(txn.Config{}, moduleRegistry, store, walog, hosts, pub, logger, m.Txn())

	predictor, err := buildpipeline.NewPredictor(nil, 500*time.Millisecond, 64)
	if err != nil {
		return nil, err
	}
	gate := buildpipeline.NewAdmissionGate(buildpipeline.Config{
		MaxConcurrentJobs: opts.Build.MaxParallelJobs,
		Load:              cfg.LoadSampler,
		LoadThreshold:     opts.Build.CPULoadThreshold,
	})
	pipeline := buildpipeline.NewPipeline(gate, predictor, cfg.Build, pub, logger, m.Build())
	go pipeline.Run(ctx)

	clockCfg := cfg.ClockConfig
	if clockCfg.BaseBudget <= 0 && opts.MaxFrameBudget > 0 {
		clockCfg.BaseBudget = opts.MaxFrameBudget
	}
	cl := clock.NewClock(clockCfg)

	r := &Runtime{
		cfg:              cfg,
		logger:           logger,
		registry:         moduleRegistry,
		loader:           loader,
		store:            store,
		walog:            walog,
		txns:             txMgr,
		pipeline:         pipeline,
		clock:            cl,
		bus:              bus,
		pub:              pub,
		hosts:            hosts,
		defaultIsolation: opts.Isolation(),
	}

	resolveArtifact := cfg.ResolveArtifact
	if resolveArtifact == nil {
		resolveArtifact = r.defaultArtifactResolver
	}

	schedCfg := cfg.SchedulerConfig
	if schedCfg.CheckInterval == 0 {
		schedCfg.CheckInterval = opts.CheckIntervalFrames
	}
	if schedCfg.Isolation == txn.ReadUncommitted && !schedCfg.RequireReadUncommitted {
		schedCfg.Isolation = r.defaultIsolation
	}
	r.sched = scheduler.New(schedCfg, cl, txMgr, pipeline, hosts, resolveArtifact, logger, m.Scheduler())

	configSvc := runtimeconfig.NewService(opts, runtimeconfig.SourceDefaults, "")
	r.configSvc = configSvc
	r.coordinator = runtimeconfig.NewCoordinator(configSvc, "", logger)
	r.coordinator.OnApply(r.applyConfigReload)

	return r, nil
}

// applyConfigReload is registered as the Coordinator's one built-in
// subscriber: it pauses the Scheduler and resumes it before returning.
// It changes no Scheduler or admission gate setting; the new options
// are not applied to either. Subsystems outside this package can register their own
// ApplyFunc via Coordinator() for anything else a live reload should
// touch.
func (r *Runtime) applyConfigReload(old, next runtimeconfig.Options) error {
	r.sched.Pause()
	defer r.sched.Resume()
	return nil
}

// Coordinator exposes the live config-reload coordinator so an embedder
// can register additional ApplyFunc subscribers.
func (r *Runtime) Coordinator() *runtimeconfig.Coordinator { return r.coordinator }

// ConfigSnapshot returns the currently active configuration, versioned
// by content hash.
func (r *Runtime) ConfigSnapshot() runtimeconfig.Snapshot { return r.configSvc.Current() }

// defaultArtifactResolver treats a build Job's Target as a registered
// module name and proposes the next Build-component version of that
// module's current image — a reasonable default for a single-binary
// embedder where module name and build target coincide; anything more
// elaborate (multi-target builds, explicit manifests) should supply its
// own ResolveArtifact.
func (r *Runtime) defaultArtifactResolver(res buildpipeline.Result) (scheduler.ResolvedArtifact, error) {
	entry, ok := r.registry.LookupByName(res.Job.Target)
	if !ok {
		return scheduler.ResolvedArtifact{}, herrors.New(herrors.NotFound, fmt.Sprintf("no module registered under name %q", res.Job.Target))
	}

	version := registry.Version{Major: 1}
	if img := entry.CodeImage(); img != nil {
		version = img.Version
		version.Build++
	}

	img, err := r.loader.Load(registry.ArtifactMeta{
		ModuleID:     entry.ID,
		Version:      version,
		ArtifactPath: res.ArtifactPath,
	})
	if err != nil {
		return scheduler.ResolvedArtifact{}, err
	}

	return scheduler.ResolvedArtifact{
		ModuleID:     entry.ID,
		Version:      img.Version,
		Image:        img,
		Dependencies: entry.Dependencies(),
	}, nil
}

// FrameStats reports what one FrameTick call did, for a host
// simulation's own frame-time accounting. FrameTick fills in Frame and
// AdaptiveBudget only; BudgetSpent and BudgetTotal are left zero.
type FrameStats struct {
	Frame          uint64
	BudgetSpent    time.Duration
	BudgetTotal    time.Duration
	AdaptiveBudget time.Duration
}

// FrameTick advances the runtime by one simulation frame: the Reload
// Scheduler drains ready build artifacts and drives as many reload
// transactions as the frame's remaining time budget affords (§4.1).
// Callers are expected to invoke this once per simulation frame at a
// steady cadence; frame is the caller's own monotonic frame counter.
func (r *Runtime) FrameTick(ctx context.Context, frame uint64) (FrameStats, error) {
	r.frame = frame
	if err := r.sched.Tick(ctx, frame); err != nil {
		return FrameStats{Frame: frame}, err
	}
	return FrameStats{
		Frame:          frame,
		AdaptiveBudget: r.clock.CurrentBudget(),
	}, nil
}

// Enable turns reload processing on or off without losing registered
// modules or in-flight build jobs.
func (r *Runtime) Enable(on bool) {
	if on {
		r.sched.Enable()
	} else {
		r.sched.Disable()
	}
}

// Pause suspends reload commits without disabling the scheduler
// entirely — FrameTick still polls but performs no work.
func (r *Runtime) Pause(on bool) {
	if on {
		r.sched.Pause()
	} else {
		r.sched.Resume()
	}
}

// Status is the runtime-wide snapshot status() exposes (§6).
type Status struct {
	Enabled  bool
	Paused   bool
	Frame    uint64
	Modules  []registry.ModuleStatus
	WALLSN   uint64
	InFlight int
	Config   runtimeconfig.Snapshot
}

// Status reports the runtime's current enabled/paused state, every
// registered module's lifecycle state, the build pipeline's in-flight
// job count, and the WAL's last sequence number.
func (r *Runtime) Status() Status {
	enabled, paused := r.sched.Status()
	return Status{
		Enabled:  enabled,
		Paused:   paused,
		Frame:    r.frame,
		Modules:  r.registry.Snapshot(),
		WALLSN:   r.walog.LastLSN(),
		InFlight: r.pipeline.InFlight(),
		Config:   r.configSvc.Current(),
	}
}

// Pipeline exposes the Build Pipeline so an embedder can call Submit or
// Feed directly (e.g. wiring internal/watcher's fsnotify events via
// Pipeline().Feed(ctx, watcher.Events(), classify)).
func (r *Runtime) Pipeline() *buildpipeline.Pipeline { return r.pipeline }

// Shutdown stops every background goroutine (build dispatch, event
// bus) and closes the WAL and state store, flushing anything buffered.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.pipeline.Stop()
	r.bus.Stop()
	if err := r.walog.Close(); err != nil {
		return err
	}
	return r.store.Close()
}
