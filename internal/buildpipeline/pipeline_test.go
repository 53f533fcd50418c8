package buildpipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotreload/hmr/internal/watcher"
)

func newTestPipeline(t *testing.T, build Builder) *Pipeline {
	t.Helper()
	predictor, err := NewPredictor(nil, 10*time.Millisecond, 16)
	require.NoError(t, err)
	gate := NewAdmissionGate(Config{RatePerSecond: 1000, Burst: 10, MaxConcurrentJobs: 4})
	return NewPipeline(gate, predictor, build, nil, nil, nil)
}

func TestPipelineRunsSubmittedJobAndReportsCompletion(t *testing.T) {
	built := make(chan string, 1)
	p := newTestPipeline(t, func(job Job) (string, error) {
		built <- job.Target
		return "/artifacts/" + job.Target, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)
	defer p.Stop()

	p.Submit(Job{Target: "module-a", Priority: PriorityNormal})

	select {
	case target := <-built:
		assert.Equal(t, "module-a", target)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for build to run")
	}

	select {
	case res := <-p.Completed():
		assert.Equal(t, "module-a", res.Job.Target)
		assert.Equal(t, "/artifacts/module-a", res.ArtifactPath)
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completed result")
	}
}

func TestPipelineReportsBuilderErrorInResult(t *testing.T) {
	p := newTestPipeline(t, func(job Job) (string, error) {
		return "", fmt.Errorf("compile failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)
	defer p.Stop()

	p.Submit(Job{Target: "module-b", Priority: PriorityHigh})

	select {
	case res := <-p.Completed():
		assert.Error(t, res.Err)
		assert.Empty(t, res.ArtifactPath)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completed result")
	}
}

func TestPipelineFeedTranslatesWatcherEventsIntoJobs(t *testing.T) {
	built := make(chan string, 1)
	p := newTestPipeline(t, func(job Job) (string, error) {
		built <- job.Target
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)
	defer p.Stop()

	changes := make(chan watcher.Event, 1)
	classify := func(ev watcher.Event) Job {
		return Job{Target: ev.Path, Priority: PriorityNormal}
	}
	go p.Feed(ctx, changes, classify)

	changes <- watcher.Event{Path: "module-c", Op: watcher.OpWrite, Coalesced: 1}

	select {
	case target := <-built:
		assert.Equal(t, "module-c", target)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fed job to build")
	}
}
