package binance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightLimiterGrantsWithinBudget(t *testing.T) {
	l := NewWeightLimiter(10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, 2))
	}
	used, budget := l.Window()
	assert.Equal(t, 10, used)
	assert.Equal(t, 10, budget)
}

func TestWeightLimiterZeroWeightIsFree(t *testing.T) {
	l := NewWeightLimiter(1, time.Minute)
	require.NoError(t, l.Acquire(context.Background(), 0))
	used, _ := l.Window()
	assert.Equal(t, 0, used)
}

func TestWeightLimiterRejectsOversizedRequest(t *testing.T) {
	l := NewWeightLimiter(10, time.Minute)
	err := l.Acquire(context.Background(), 11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds window budget")
}

func TestWeightLimiterBlocksWhenSaturated(t *testing.T) {
	l := NewWeightLimiter(5, time.Minute)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 5))

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(blocked, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// The property the exchange enforces: no trailing window of the configured
// width may ever contain more granted weight than the budget.
func TestWeightLimiterTrailingWindowProperty(t *testing.T) {
	const budget = 10
	window := 200 * time.Millisecond
	l := NewWeightLimiter(budget, window)
	ctx := context.Background()

	type stamped struct {
		at     time.Time
		weight int
	}
	var mu sync.Mutex
	var granted []stamped

	weights := []int{3, 5, 2, 4, 1, 5, 3, 2, 4, 1}
	var wg sync.WaitGroup
	for _, w := range weights {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, w))
			mu.Lock()
			granted = append(granted, stamped{at: time.Now(), weight: w})
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Slide a window across every grant and sum what falls inside it. The
	// timestamps are taken after Acquire returns, so a small slack absorbs
	// the recording jitter around exact window boundaries.
	scan := window - 20*time.Millisecond
	for _, anchor := range granted {
		sum := 0
		for _, g := range granted {
			if !g.at.Before(anchor.at) && g.at.Before(anchor.at.Add(scan)) {
				sum += g.weight
			}
		}
		assert.LessOrEqual(t, sum, budget,
			"window starting at %s contains %d weight", anchor.at, sum)
	}
}

func TestWeightLimiterServesWaitersInArrivalOrder(t *testing.T) {
	l := NewWeightLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	// Saturate so every later caller queues.
	require.NoError(t, l.Acquire(ctx, 1))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, 1))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// Stagger arrivals so queue positions are deterministic.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestWeightLimiterCancelledWaiterReleasesQueue(t *testing.T) {
	l := NewWeightLimiter(1, 150*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 1))

	// Head waiter gives up while waiting for capacity.
	cancelCtx, cancel := context.WithCancel(ctx)
	headErr := make(chan error, 1)
	go func() {
		headErr <- l.Acquire(cancelCtx, 1)
	}()
	time.Sleep(20 * time.Millisecond)

	// Second waiter arrives behind the doomed head.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- l.Acquire(ctx, 1)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-headErr, context.Canceled)

	select {
	case err := <-secondDone:
		require.NoError(t, err, "second waiter must inherit the head slot")
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter starved after head cancellation")
	}
}

func TestWeightLimiterWindowExpiryFreesBudget(t *testing.T) {
	window := 100 * time.Millisecond
	l := NewWeightLimiter(3, window)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, 3))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, 3))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, window-10*time.Millisecond,
		"second grant must wait for the first to age out")
}
