package buildpipeline

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LoadSampler reports current system load as a fraction in [0, 1], used
// to enforce "never exceed 1 job when system CPU load > 85%" (§4.6).
// The embedder supplies a real sampler (e.g. backed by gopsutil or
// /proc/stat); tests can inject a constant.
type LoadSampler func() float64

// AdmissionGate bounds how many build jobs may run concurrently: a
// token-bucket rate limiter smooths bursts of file-change events, and a
// mutex-guarded in-flight counter caps running jobs, collapsing to a single slot
// under high CPU load.
type AdmissionGate struct {
	limiter *rate.Limiter
	load    LoadSampler

	mu            sync.Mutex
	cond          *sync.Cond
	inFlight      int
	maxJobs       int
	loadThreshold float64
}

// Config configures an AdmissionGate.
type Config struct {
	// RatePerSecond and Burst bound how often new jobs may be admitted.
	RatePerSecond float64
	Burst         int
	// MaxConcurrentJobs is the ceiling on simultaneous builds under
	// normal load.
	MaxConcurrentJobs int
	// Load reports current CPU load fraction; defaults to always-0 (no
	// throttling) if nil.
	Load LoadSampler
	// LoadThreshold is the CPU load fraction above which the gate
	// collapses to a single concurrent job, matching config option
	// build.cpu_load_threshold. Defaults to 0.85.
	LoadThreshold float64
}

// NewAdmissionGate constructs a gate from cfg, filling in defaults.
func NewAdmissionGate(cfg Config) *AdmissionGate {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.Load == nil {
		cfg.Load = func() float64 { return 0 }
	}
	if cfg.LoadThreshold <= 0 {
		cfg.LoadThreshold = 0.85
	}
	g := &AdmissionGate{
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		load:          cfg.Load,
		maxJobs:       cfg.MaxConcurrentJobs,
		loadThreshold: cfg.LoadThreshold,
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// currentCap returns the concurrency ceiling for the current load
// sample: the configured max, collapsed to 1 once load exceeds
// loadThreshold.
func (g *AdmissionGate) currentCap() int {
	if g.load() > g.loadThreshold {
		return 1
	}
	return g.maxJobs
}

// TryAdmit attempts to admit one job without blocking, returning false
// if the rate limiter or the concurrency cap rejects it.
func (g *AdmissionGate) TryAdmit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight >= g.currentCap() {
		return false
	}
	if !g.limiter.Allow() {
		return false
	}
	g.inFlight++
	return true
}

// Wait blocks until the rate limiter would allow a job and a
// concurrency slot under currentCap is free, then admits it; ctx
// cancellation unblocks it.
func (g *AdmissionGate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	// sync.Cond has no context-aware Wait, so a one-shot goroutine
	// turns ctx cancellation into a Broadcast that wakes this waiter.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			g.cond.Broadcast()
		case <-stop:
		}
	}()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.inFlight >= g.currentCap() {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.inFlight++
	return nil
}

// Release frees one concurrency slot after a job completes, waking any
// Wait callers blocked on the concurrency cap.
func (g *AdmissionGate) Release() {
	g.mu.Lock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// InFlight returns the current number of admitted, not-yet-released jobs.
func (g *AdmissionGate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
