package throttler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/paradise/errs"
)

func TestAcquireUnknownBucketIsConfigError(t *testing.T) {
	th, err := New(nil, []RateLimit{{ID: "get", Limit: 1, Interval: time.Second}})
	require.NoError(t, err)

	err = th.Acquire(context.Background(), "post")
	require.True(t, errs.HasCode(err, errs.CodeConfig), "got %v", err)
}

func TestNewRejectsUnknownLinkedBucket(t *testing.T) {
	_, err := New(nil, []RateLimit{{
		ID: "order", Limit: 5, Interval: time.Second,
		LinkedLimits: []LinkedLimit{{ID: "missing", Weight: 1}},
	}})
	require.True(t, errs.HasCode(err, errs.CodeConfig), "got %v", err)
}

func TestCapacityBoundUnderConcurrency(t *testing.T) {
	const capacity = 3
	interval := 150 * time.Millisecond
	th, err := New(nil, []RateLimit{{ID: "get", Limit: capacity, Interval: interval}})
	require.NoError(t, err)

	const workers = 10
	times := make([]time.Time, 0, workers)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, th.Acquire(context.Background(), "get"))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	// No window of length `interval` may contain more than `capacity`
	// admissions. Allow a small scheduling epsilon.
	epsilon := 20 * time.Millisecond
	for i := 0; i+capacity < len(times); i++ {
		span := times[i+capacity].Sub(times[i])
		require.GreaterOrEqual(t, span+epsilon, interval,
			"admissions %d..%d within %v", i, i+capacity, span)
	}
}

func TestLinkedBucketGatesAcquisition(t *testing.T) {
	interval := 100 * time.Millisecond
	th, err := New(nil, []RateLimit{
		{ID: "post", Limit: 1, Interval: interval},
		{ID: "order", Limit: 100, Interval: interval,
			LinkedLimits: []LinkedLimit{{ID: "post", Weight: 1}}},
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, th.Acquire(context.Background(), "order"))
	// Second acquisition must wait for the linked post bucket to refill even
	// though the order bucket itself has plenty of headroom.
	require.NoError(t, th.Acquire(context.Background(), "order"))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed+10*time.Millisecond, interval, "elapsed %v", elapsed)
}

func TestSaturatedBucketDoesNotStallOthers(t *testing.T) {
	th, err := New(nil, []RateLimit{
		{ID: "order", Limit: 1, Interval: 2 * time.Second},
		{ID: "get", Limit: 10, Interval: 100 * time.Millisecond},
	})
	require.NoError(t, err)

	// Saturate the order bucket and park a waiter on it.
	require.NoError(t, th.Acquire(context.Background(), "order"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queued := make(chan struct{})
	go func() {
		close(queued)
		_ = th.Acquire(ctx, "order")
	}()
	<-queued
	time.Sleep(20 * time.Millisecond)

	// The empty get bucket must admit immediately, not behind the order
	// bucket's waiter.
	start := time.Now()
	require.NoError(t, th.Acquire(context.Background(), "get"))
	require.Less(t, time.Since(start), 500*time.Millisecond,
		"independent bucket blocked behind a saturated one")
}

func TestAcquireHonoursCancellation(t *testing.T) {
	th, err := New(nil, []RateLimit{{ID: "get", Limit: 1, Interval: time.Minute}})
	require.NoError(t, err)
	require.NoError(t, th.Acquire(context.Background(), "get"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = th.Acquire(ctx, "get")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPairLimitID(t *testing.T) {
	require.Equal(t, "futures/api/v2.1/order-BTC-USD", PairLimitID("futures/api/v2.1/order", "BTC-USD"))
}
