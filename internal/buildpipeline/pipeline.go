package buildpipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hotreload/hmr/internal/events"
	"github.com/hotreload/hmr/internal/metrics"
	"github.com/hotreload/hmr/internal/watcher"
)

// Classifier maps a debounced file-change event to the Job it should
// trigger, assigning a priority (e.g. by path convention or declared
// module metadata).
type Classifier func(watcher.Event) Job

// Pipeline drains a priority queue of build jobs through an admission
// gate, running each on its own goroutine and reporting completion
// through Completed(). It is the worker-thread side of §4.6; the
// Scheduler only ever reads from Completed() on the frame thread.
type Pipeline struct {
	queue     *Queue
	gate      *AdmissionGate
	predictor *Predictor
	build     Builder

	logger  *slog.Logger
	metrics *metrics.BuildMetrics
	events  *events.Publisher

	mu       sync.Mutex
	pending  chan struct{} // signals the dispatch loop a job was pushed
	done     chan struct{}
	wg       sync.WaitGroup
	results  chan Result
}

// NewPipeline constructs a Pipeline. build performs the actual
// compilation/packaging for one Job and must be safe for concurrent use.
func NewPipeline(gate *AdmissionGate, predictor *Predictor, build Builder, pub *events.Publisher, logger *slog.Logger, m *metrics.BuildMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		queue:     NewQueue(),
		gate:      gate,
		predictor: predictor,
		build:     build,
		logger:    logger,
		metrics:   m,
		events:    pub,
		pending:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		results:   make(chan Result, 64),
	}
}

// Submit enqueues a job for eventual admission and build.
func (p *Pipeline) Submit(job Job) {
	job.submitted = time.Now()

	p.mu.Lock()
	p.queue.Push(job)
	depth := p.queue.LenByPriority()
	p.mu.Unlock()

	if p.metrics != nil {
		for prio, n := range depth {
			p.metrics.QueueDepth.WithLabelValues(prio.String()).Set(float64(n))
		}
	}

	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Run starts the dispatch loop on its own goroutine and returns at
// once; the loop ends when ctx is cancelled or Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-p.pending:
				p.dispatchReady()
			case <-ticker.C:
				p.dispatchReady()
			}
		}
	}()
}

func (p *Pipeline) dispatchReady() {
	for {
		p.mu.Lock()
		job, ok := p.queue.Pop()
		p.mu.Unlock()
		if !ok {
			return
		}
		if !p.gate.TryAdmit() {
			// Put it back; another dispatch pass (timer-driven) will retry.
			p.mu.Lock()
			p.queue.Push(job)
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.RejectedTotal.Inc()
			}
			return
		}
		if p.metrics != nil {
			p.metrics.AdmittedTotal.Inc()
			p.metrics.InFlightBuilds.Set(float64(p.gate.InFlight()))
		}
		p.wg.Add(1)
		go p.execute(job)
	}
}

func (p *Pipeline) execute(job Job) {
	defer p.wg.Done()
	defer p.gate.Release()

	if p.events != nil {
		p.events.BuildStarted(job.Target)
	}

	start := time.Now()
	artifactPath, err := p.build(job)
	duration := time.Since(start)

	p.predictor.Observe(job.Target, duration)

	if p.metrics != nil {
		p.metrics.BuildDuration.WithLabelValues(job.Target).Observe(duration.Seconds())
		p.metrics.InFlightBuilds.Set(float64(p.gate.InFlight()))
	}

	if err != nil {
		p.logger.Warn("build failed", "target", job.Target, "error", err)
		if p.events != nil {
			p.events.BuildFailed(job.Target, err.Error())
		}
		p.results <- Result{Job: job, Err: err, Duration: duration}
		return
	}

	if p.events != nil {
		p.events.BuildCompleted(job.Target, artifactPath, duration.Seconds())
	}
	p.results <- Result{Job: job, ArtifactPath: artifactPath, Duration: duration}
}

// Completed returns the channel of finished build results, in
// completion order (not submission order) — this is the Build
// Pipeline's "completed queue" the Scheduler drains in priority order;
// callers that need strict priority ordering across completions should
// buffer and re-sort by Job.Priority themselves, since build durations
// vary independently of queue priority.
func (p *Pipeline) Completed() <-chan Result {
	return p.results
}

// EstimateDuration exposes the predictor so the Scheduler can decide
// whether draining another completed job's reload fits this frame.
func (p *Pipeline) EstimateDuration(target string) time.Duration {
	return p.predictor.Estimate(target)
}

// InFlight returns the number of build jobs currently admitted and
// running, for status reporting.
func (p *Pipeline) InFlight() int {
	return p.gate.InFlight()
}

// Feed consumes debounced events from a watcher and submits the jobs
// classify produces, until events closes or ctx is cancelled. Call it
// in its own goroutine alongside Run.
func (p *Pipeline) Feed(ctx context.Context, changes <-chan watcher.Event, classify Classifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			p.Submit(classify(ev))
		}
	}
}

// Stop halts the dispatch loop and waits for in-flight builds to finish.
func (p *Pipeline) Stop() {
	close(p.done)
	p.wg.Wait()
}
