// Package buildpipeline implements the bounded File Watcher & Build
// Pipeline interface (§4.6): a 5-level priority queue of build jobs,
// an admission gate that throttles on load, and a duration predictor
// the scheduler can use to decide whether a job will fit this frame's
// remaining budget.
package buildpipeline

import "time"

// Priority is a build job's queueing priority. Higher values drain first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Background"
	}
}

// Job is one unit of build work admitted from a file-change event.
type Job struct {
	Target    string
	SourcePath string
	Priority  Priority
	Timeout   time.Duration
	submitted time.Time
}

// Result is the outcome of a finished Job, matching the spec's
// Built/BuildFailed event shape.
type Result struct {
	Job          Job
	ArtifactPath string
	Duration     time.Duration
	Err          error
}

// Builder produces an artifact for a Job. The embedder supplies this —
// the pipeline itself only schedules and predicts duration.
type Builder func(job Job) (artifactPath string, err error)
