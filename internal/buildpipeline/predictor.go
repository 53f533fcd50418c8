package buildpipeline

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// blendWeight is how much a fresh observation shifts the running
// estimate; 0.3 favors recent history without letting one slow build
// dominate the estimate (matches an exponential-moving-average blend).
const blendWeight = 0.3

// Predictor estimates how long a build for a given target will take,
// blending a configured base estimate with an exponential moving
// average of observed durations, so the Scheduler (§4.1 step 5) can
// decide whether a ready job fits this frame's remaining budget.
type Predictor struct {
	mu        sync.Mutex
	base      map[string]time.Duration
	defaultEst time.Duration
	observed  *lru.Cache[string, time.Duration]
}

// NewPredictor creates a Predictor. base gives per-target starting
// estimates (e.g. from a previous run's profile); defaultEst is used for
// targets with no base estimate and no observed history yet.
func NewPredictor(base map[string]time.Duration, defaultEst time.Duration, historySize int) (*Predictor, error) {
	if historySize <= 0 {
		historySize = 256
	}
	if defaultEst <= 0 {
		defaultEst = 500 * time.Millisecond
	}
	cache, err := lru.New[string, time.Duration](historySize)
	if err != nil {
		return nil, err
	}
	cloned := make(map[string]time.Duration, len(base))
	for k, v := range base {
		cloned[k] = v
	}
	return &Predictor{base: cloned, defaultEst: defaultEst, observed: cache}, nil
}

// Estimate returns the predicted duration for target.
func (p *Predictor) Estimate(target string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if observed, ok := p.observed.Get(target); ok {
		return observed
	}
	if base, ok := p.base[target]; ok {
		return base
	}
	return p.defaultEst
}

// Observe records an actual build duration for target, blending it
// into the running estimate.
func (p *Predictor) Observe(target string, actual time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.observed.Get(target)
	if !ok {
		if base, hasBase := p.base[target]; hasBase {
			prev = base
		} else {
			prev = p.defaultEst
		}
	}

	blended := time.Duration(float64(prev)*(1-blendWeight) + float64(actual)*blendWeight)
	p.observed.Add(target, blended)
}
