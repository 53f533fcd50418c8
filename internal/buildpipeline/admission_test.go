package buildpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionGateRejectsBeyondConcurrencyCap(t *testing.T) {
	gate := NewAdmissionGate(Config{RatePerSecond: 1000, Burst: 10, MaxConcurrentJobs: 2})

	require.True(t, gate.TryAdmit())
	require.True(t, gate.TryAdmit())
	assert.False(t, gate.TryAdmit(), "third concurrent job should be rejected by the concurrency cap")

	gate.Release()
	assert.True(t, gate.TryAdmit(), "releasing a slot should allow another admission")
}

func TestAdmissionGateCollapsesToOneUnderHighLoad(t *testing.T) {
	load := 0.9
	gate := NewAdmissionGate(Config{
		RatePerSecond:     1000,
		Burst:             10,
		MaxConcurrentJobs: 4,
		Load:              func() float64 { return load },
	})

	require.True(t, gate.TryAdmit())
	assert.False(t, gate.TryAdmit(), "cap should collapse to 1 once load exceeds 85%")

	load = 0.1
	gate.Release()
	assert.True(t, gate.TryAdmit())
	assert.True(t, gate.TryAdmit(), "cap should widen back out once load drops")
}

func TestAdmissionGateWaitUnblocksOnContextCancel(t *testing.T) {
	gate := NewAdmissionGate(Config{RatePerSecond: 0.001, Burst: 1, MaxConcurrentJobs: 1})
	gate.TryAdmit() // consume the single burst token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx)
	assert.Error(t, err)
}

func TestAdmissionGateWaitRespectsConcurrencyCap(t *testing.T) {
	gate := NewAdmissionGate(Config{RatePerSecond: 1000, Burst: 10, MaxConcurrentJobs: 1})
	require.True(t, gate.TryAdmit())
	assert.Equal(t, 1, gate.InFlight())

	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("Wait returned (err=%v) before a concurrency slot was free", err)
	case <-time.After(30 * time.Millisecond):
	}

	gate.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Release freed a slot")
	}
	assert.Equal(t, 1, gate.InFlight())
}
