package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetSpendNeverGoesNegative(t *testing.T) {
	b := NewBudget(10 * time.Millisecond)
	b.Start(time.Now())

	b.Spend(15 * time.Millisecond)

	assert.True(t, b.Exhausted())
	assert.Equal(t, time.Duration(0), b.Remaining())
	assert.Equal(t, 15*time.Millisecond, b.Spent())
}

func TestClockShrinksBudgetOnOverrun(t *testing.T) {
	c := NewClock(Config{BaseBudget: 2 * time.Millisecond, MinBudget: 500 * time.Microsecond, MaxBudget: 4 * time.Millisecond})

	b, frame := c.BeginFrame(time.Now())
	require.Equal(t, uint64(1), frame)
	b.Spend(3 * time.Millisecond)
	c.EndFrame(b)

	assert.True(t, c.LastOverrun())
	assert.Less(t, c.CurrentBudget(), 2*time.Millisecond)
}

func TestClockGrowsBudgetWhenUnderHalfSpent(t *testing.T) {
	c := NewClock(Config{BaseBudget: 2 * time.Millisecond, MinBudget: 500 * time.Microsecond, MaxBudget: 4 * time.Millisecond})

	b, _ := c.BeginFrame(time.Now())
	b.Spend(500 * time.Microsecond)
	c.EndFrame(b)

	assert.False(t, c.LastOverrun())
	assert.Greater(t, c.CurrentBudget(), 2*time.Millisecond)
}

func TestClockRespectsMaxBudgetCap(t *testing.T) {
	c := NewClock(Config{BaseBudget: 3800 * time.Microsecond, MinBudget: 500 * time.Microsecond, MaxBudget: 4 * time.Millisecond})

	b, _ := c.BeginFrame(time.Now())
	b.Spend(0)
	c.EndFrame(b)

	assert.LessOrEqual(t, c.CurrentBudget(), 4*time.Millisecond)
}
