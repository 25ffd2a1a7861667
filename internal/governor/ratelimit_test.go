package governor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, resources map[string]ResourceConfig, opts ...RateLimiterOption) *RateLimiter {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRateLimiter(resources, log, opts...)
}

func TestTokenBucketDeniesWithRetryHint(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"market_data": {Algorithm: AlgorithmTokenBucket, Capacity: 5, RefillRate: 1},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	for i := 0; i < 5; i++ {
		granted, _ := rl.Acquire("market_data", 1)
		require.True(t, granted, "call %d should be granted", i+1)
	}

	granted, retryAfter := rl.Acquire("market_data", 1)
	assert.False(t, granted, "sixth immediate call should be denied")
	assert.InDelta(t, float64(time.Second), float64(retryAfter), float64(time.Millisecond))
}

func TestTokenBucketRefills(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"market_data": {Algorithm: AlgorithmTokenBucket, Capacity: 5, RefillRate: 1},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	for i := 0; i < 5; i++ {
		granted, _ := rl.Acquire("market_data", 1)
		require.True(t, granted)
	}
	granted, _ := rl.Acquire("market_data", 1)
	require.False(t, granted)

	clock.Advance(2 * time.Second)
	granted, _ = rl.Acquire("market_data", 1)
	assert.True(t, granted, "refill should restore a token after the advance")
	assert.InDelta(t, 1.0, rl.Remaining("market_data"), 1e-9)
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"market_data": {Algorithm: AlgorithmTokenBucket, Capacity: 5, RefillRate: 1},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	clock.Advance(time.Hour)
	assert.InDelta(t, 5.0, rl.Remaining("market_data"), 1e-9)
}

func TestTokenBucketRelease(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"llm": {Algorithm: AlgorithmTokenBucket, Capacity: 10, RefillRate: 0.001},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	granted, _ := rl.Acquire("llm", 4)
	require.True(t, granted)
	assert.InDelta(t, 6.0, rl.Remaining("llm"), 1e-6)

	rl.Release("llm", 4)
	assert.InDelta(t, 10.0, rl.Remaining("llm"), 1e-6)

	// A refund never pushes the bucket past capacity.
	rl.Release("llm", 100)
	assert.InDelta(t, 10.0, rl.Remaining("llm"), 1e-6)
}

func TestSlidingWindowNeverOverGrants(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"retrieval": {Algorithm: AlgorithmSlidingWindow, Limit: 3, Window: time.Minute},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	for i := 0; i < 3; i++ {
		granted, _ := rl.Acquire("retrieval", 1)
		require.True(t, granted)
		clock.Advance(10 * time.Second)
	}

	granted, retryAfter := rl.Acquire("retrieval", 1)
	assert.False(t, granted)
	// The oldest grant is 30s old; it exits the window 30s from now.
	assert.Equal(t, 30*time.Second, retryAfter)

	clock.Advance(30 * time.Second)
	granted, _ = rl.Acquire("retrieval", 1)
	assert.True(t, granted, "grant should succeed once the oldest exits the window")
}

func TestSlidingWindowOversizedRequest(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"retrieval": {Algorithm: AlgorithmSlidingWindow, Limit: 3, Window: time.Minute},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	granted, _ := rl.Acquire("retrieval", 4)
	assert.False(t, granted, "a request above the window limit can never be granted")
}

func TestSlidingWindowRelease(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"sentiment": {Algorithm: AlgorithmSlidingWindow, Limit: 2, Window: time.Minute},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	granted, _ := rl.Acquire("sentiment", 2)
	require.True(t, granted)
	granted, _ = rl.Acquire("sentiment", 1)
	require.False(t, granted)

	rl.Release("sentiment", 1)
	granted, _ = rl.Acquire("sentiment", 1)
	assert.True(t, granted, "refunded permit should be grantable again")
}

func TestAcquireUnknownResourceAllows(t *testing.T) {
	rl := newTestLimiter(t, nil)

	granted, retryAfter := rl.Acquire("mystery", 1)
	assert.True(t, granted)
	assert.Zero(t, retryAfter)
	assert.True(t, math.IsInf(rl.Remaining("mystery"), 1))
}

func TestAcquireNonPositiveDefaultsToOne(t *testing.T) {
	clock := newFakeClock()
	resources := map[string]ResourceConfig{
		"llm": {Algorithm: AlgorithmTokenBucket, Capacity: 10, RefillRate: 0.001},
	}
	rl := newTestLimiter(t, resources, withLimiterClock(clock.Now))

	granted, _ := rl.Acquire("llm", 0)
	require.True(t, granted)
	assert.InDelta(t, 9.0, rl.Remaining("llm"), 1e-6)
}

func TestDefaultResourcesCoverKnownBudgets(t *testing.T) {
	rl := newTestLimiter(t, nil)
	names := rl.Resources()
	assert.ElementsMatch(t, []string{"llm", "market_data", "fundamentals", "macro", "retrieval", "sentiment"}, names)
}

func TestLimiterConcurrentAcquire(t *testing.T) {
	resources := map[string]ResourceConfig{
		"llm": {Algorithm: AlgorithmTokenBucket, Capacity: 100, RefillRate: 0},
	}
	rl := newTestLimiter(t, resources)

	var wg sync.WaitGroup
	var mu sync.Mutex
	grantedTotal := 0
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if granted, _ := rl.Acquire("llm", 1); granted {
					mu.Lock()
					grantedTotal++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, grantedTotal, "a zero-refill bucket must grant exactly its capacity")
}
