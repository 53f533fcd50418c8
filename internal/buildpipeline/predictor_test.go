package buildpipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictorFallsBackThroughObservedBaseDefault(t *testing.T) {
	p, err := NewPredictor(map[string]time.Duration{"web": 2 * time.Second}, 500*time.Millisecond, 16)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, p.Estimate("web"))
	assert.Equal(t, 500*time.Millisecond, p.Estimate("unknown-target"))
}

func TestPredictorBlendsObservedDurationsTowardActual(t *testing.T) {
	p, err := NewPredictor(map[string]time.Duration{"web": 1 * time.Second}, 0, 16)
	require.NoError(t, err)

	p.Observe("web", 3*time.Second)
	got := p.Estimate("web")

	// blendWeight 0.3: 1s*0.7 + 3s*0.3 = 1.6s
	assert.Equal(t, 1600*time.Millisecond, got)

	p.Observe("web", 3*time.Second)
	// 1.6s*0.7 + 3s*0.3 = 2.02s
	assert.Equal(t, 2020*time.Millisecond, p.Estimate("web"))
}

func TestPredictorObserveWithNoBaseUsesDefaultEstimate(t *testing.T) {
	p, err := NewPredictor(nil, 1*time.Second, 16)
	require.NoError(t, err)

	p.Observe("new-target", 2*time.Second)
	// 1s*0.7 + 2s*0.3 = 1.3s
	assert.Equal(t, 1300*time.Millisecond, p.Estimate("new-target"))
}
