package buildpipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainsHighestPriorityFirst(t *testing.T) {
	q := NewQueue()
	q.Push(Job{Target: "low", Priority: PriorityLow, submitted: time.Now()})
	q.Push(Job{Target: "critical", Priority: PriorityCritical, submitted: time.Now()})
	q.Push(Job{Target: "normal", Priority: PriorityNormal, submitted: time.Now()})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "critical", first.Target)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "normal", second.Target)

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "low", third.Target)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueIsFIFOWithinAPriorityLevel(t *testing.T) {
	q := NewQueue()
	base := time.Now()
	q.Push(Job{Target: "first", Priority: PriorityNormal, submitted: base})
	q.Push(Job{Target: "second", Priority: PriorityNormal, submitted: base.Add(time.Millisecond)})

	first, _ := q.Pop()
	second, _ := q.Pop()
	assert.Equal(t, "first", first.Target)
	assert.Equal(t, "second", second.Target)
}

func TestQueueLenByPriority(t *testing.T) {
	q := NewQueue()
	q.Push(Job{Target: "a", Priority: PriorityHigh, submitted: time.Now()})
	q.Push(Job{Target: "b", Priority: PriorityHigh, submitted: time.Now()})
	q.Push(Job{Target: "c", Priority: PriorityBackground, submitted: time.Now()})

	counts := q.LenByPriority()
	assert.Equal(t, 2, counts[PriorityHigh])
	assert.Equal(t, 1, counts[PriorityBackground])
	assert.Equal(t, 3, q.Len())
}
