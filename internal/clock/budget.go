// Package clock tracks the per-frame time budget the scheduler spends on
// reload work so it never competes visibly with the host simulation's own
// frame work.
package clock

import (
	"sync"
	"time"
)

// Budget tracks remaining time within one simulation frame. It is not
// safe for concurrent use by design — one Budget belongs to one frame,
// owned by the scheduler goroutine that began it.
type Budget struct {
	total     time.Duration
	remaining time.Duration
	spent     time.Duration
	started   time.Time
}

// NewBudget returns a Budget for total duration, not yet started.
func NewBudget(total time.Duration) *Budget {
	return &Budget{total: total, remaining: total}
}

// Start marks the budget as active as of now.
func (b *Budget) Start(now time.Time) {
	b.started = now
	b.remaining = b.total
	b.spent = 0
}

// Spend deducts d from the remaining budget. It never goes negative;
// overspend is reported by Exhausted/Remaining returning zero.
func (b *Budget) Spend(d time.Duration) {
	b.spent += d
	b.remaining -= d
	if b.remaining < 0 {
		b.remaining = 0
	}
}

// Remaining returns the time left in the budget.
func (b *Budget) Remaining() time.Duration {
	return b.remaining
}

// Spent returns cumulative time charged against this budget.
func (b *Budget) Spent() time.Duration {
	return b.spent
}

// Exhausted reports whether the budget has no time left.
func (b *Budget) Exhausted() bool {
	return b.remaining <= 0
}

// Total returns the configured total for this budget.
func (b *Budget) Total() time.Duration {
	return b.total
}

// Clock issues frame budgets and tracks adaptive scaling of the default
// budget based on recent frame overruns, mirroring the teacher's
// phase-timing approach in reload_coordinator.go but applied per-frame
// instead of per-reload.
type Clock struct {
	mu            sync.Mutex
	baseBudget    time.Duration
	minBudget     time.Duration
	maxBudget     time.Duration
	currentBudget time.Duration
	frameIndex    uint64
	lastOverrun   bool
}

// Config configures adaptive budget scaling.
type Config struct {
	// BaseBudget is the nominal per-frame time allotted to reload work.
	BaseBudget time.Duration
	// MinBudget is the floor the adaptive scaler will not shrink below.
	MinBudget time.Duration
	// MaxBudget is the ceiling the adaptive scaler will not grow past.
	MaxBudget time.Duration
}

// DefaultConfig returns conservative defaults: a 2ms base budget able to
// shrink to 0.5ms or grow to 4ms (a hard cap of 2x base).
func DefaultConfig() Config {
	return Config{
		BaseBudget: 2 * time.Millisecond,
		MinBudget:  500 * time.Microsecond,
		MaxBudget:  4 * time.Millisecond,
	}
}

// NewClock builds a Clock from cfg, filling in DefaultConfig values for
// any zero field.
func NewClock(cfg Config) *Clock {
	d := DefaultConfig()
	if cfg.BaseBudget <= 0 {
		cfg.BaseBudget = d.BaseBudget
	}
	if cfg.MinBudget <= 0 {
		cfg.MinBudget = d.MinBudget
	}
	if cfg.MaxBudget <= 0 {
		cfg.MaxBudget = d.MaxBudget
	}
	return &Clock{
		baseBudget:    cfg.BaseBudget,
		minBudget:     cfg.MinBudget,
		maxBudget:     cfg.MaxBudget,
		currentBudget: cfg.BaseBudget,
	}
}

// BeginFrame returns a new Budget for the next frame, sized by the
// clock's current adaptive budget, and increments the frame index.
func (c *Clock) BeginFrame(now time.Time) (*Budget, uint64) {
	c.mu.Lock()
	budget := NewBudget(c.currentBudget)
	c.frameIndex++
	idx := c.frameIndex
	c.mu.Unlock()

	budget.Start(now)
	return budget, idx
}

// EndFrame reports the outcome of a completed Budget to the adaptive
// scaler. A budget that ran out (Exhausted) shrinks the next frame's
// budget by 25%, down to MinBudget; a budget that finished well under
// the allotted time grows the next frame's budget by 25%, up to
// MaxBudget — MaxBudget is a hard cap, never exceeded regardless of how
// much slack a frame had.
func (c *Clock) EndFrame(b *Budget) {
	c.mu.Lock()
	defer c.mu.Unlock()

	overrun := b.Exhausted()
	c.lastOverrun = overrun

	switch {
	case overrun:
		shrunk := time.Duration(float64(c.currentBudget) * 0.75)
		if shrunk < c.minBudget {
			shrunk = c.minBudget
		}
		c.currentBudget = shrunk
	case b.Spent() < b.Total()/2:
		grown := time.Duration(float64(c.currentBudget) * 1.25)
		if grown > c.maxBudget {
			grown = c.maxBudget
		}
		c.currentBudget = grown
	}
}

// CurrentBudget returns the budget duration that the next BeginFrame
// will use.
func (c *Clock) CurrentBudget() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBudget
}

// LastOverrun reports whether the most recently ended frame exhausted
// its budget.
func (c *Clock) LastOverrun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOverrun
}
