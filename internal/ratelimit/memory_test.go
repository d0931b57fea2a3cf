package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T, capacity int, perSec float64, clk *fakeClock) *Memory {
	t.Helper()
	m, err := NewMemory(Config{Capacity: capacity, RefillPerSec: perSec, Now: clk.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemory_BurstThenRefill(t *testing.T) {
	clk := newFakeClock()
	m := newTestMemory(t, 5, 1, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := m.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := m.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "6th request must be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Second, d.RetryAfter)

	clk.Advance(999 * time.Millisecond)
	d, _ = m.Allow(ctx, "1.2.3.4")
	assert.False(t, d.Allowed, "less than 1/rate has elapsed")

	clk.Advance(time.Millisecond)
	d, _ = m.Allow(ctx, "1.2.3.4")
	assert.True(t, d.Allowed, "one token refilled after 1s")
}

func TestMemory_NeverExceedsCapacity(t *testing.T) {
	clk := newFakeClock()
	m := newTestMemory(t, 3, 10, clk)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k")
	clk.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		d, _ := m.Allow(ctx, "k")
		assert.LessOrEqual(t, d.Remaining, 2)
		assert.GreaterOrEqual(t, d.Remaining, 0)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed, "after a long idle period only capacity tokens are available")
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	clk := newFakeClock()
	m := newTestMemory(t, 1, 1, clk)
	ctx := context.Background()

	d, _ := m.Allow(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
	d, _ = m.Allow(ctx, "10.0.0.1")
	assert.False(t, d.Allowed)

	d, _ = m.Allow(ctx, "10.0.0.2")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, m.Len())
}

func TestMemory_NoDoubleSpendOnLastToken(t *testing.T) {
	clk := newFakeClock()
	m := newTestMemory(t, 1, 0.001, clk)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		key := fmt.Sprintf("client-%d", round)
		var admitted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if d, _ := m.Allow(ctx, key); d.Allowed {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), admitted.Load(), "round %d", round)
	}
}

func TestMemory_ConcurrentAdmitsMatchCapacity(t *testing.T) {
	clk := newFakeClock()
	const capacity = 25
	m := newTestMemory(t, capacity, 0.001, clk)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Allow(ctx, "shared")
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, d.Remaining, 0)
			assert.LessOrEqual(t, d.Remaining, capacity)
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(capacity), admitted.Load())
	assert.Equal(t, 1, m.Len(), "get-or-create must yield a single bucket")
}

func TestMemory_SweepEvictsOnlyIdleFullBuckets(t *testing.T) {
	clk := newFakeClock()
	// idle ttl below the 10s full-refill time gets raised to 10s
	m, err := NewMemory(Config{Capacity: 10, RefillPerSec: 1, IdleTTL: time.Second, SweepInterval: time.Hour, Now: clk.Now})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 10*time.Second, m.idleTTL)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "old")
	clk.Advance(5 * time.Second)
	_, _ = m.Allow(ctx, "fresh")

	assert.Equal(t, 0, m.sweep(clk.Now()))

	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, m.sweep(clk.Now()))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_NoEvictionWhenTTLDisabled(t *testing.T) {
	clk := newFakeClock()
	m := newTestMemory(t, 1, 1, clk)
	_, _ = m.Allow(context.Background(), "k")
	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, m.sweep(clk.Now()))
	assert.Equal(t, 1, m.Len())
}

func TestNewMemory_InvalidConfig(t *testing.T) {
	_, err := NewMemory(Config{Capacity: 0, RefillPerSec: 1})
	assert.Error(t, err)
	_, err = NewMemory(Config{Capacity: 1, RefillPerSec: 0})
	assert.Error(t, err)
}
