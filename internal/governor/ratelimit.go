package governor

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/metrics"
)

// Algorithm selects the rate-limiting strategy for a resource.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// ResourceConfig is the immutable rate budget for one external resource,
// fixed at startup.
type ResourceConfig struct {
	Algorithm Algorithm `yaml:"algorithm"`
	// Token bucket: maximum tokens and refill per second.
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
	// Sliding window: maximum grants within the trailing window.
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DefaultResources returns the standard budgets for the external resources
// the committee calls out to.
func DefaultResources() map[string]ResourceConfig {
	return map[string]ResourceConfig{
		"llm":          {Algorithm: AlgorithmTokenBucket, Capacity: 1000, RefillRate: 1000.0 / 60},
		"market_data":  {Algorithm: AlgorithmTokenBucket, Capacity: 5, RefillRate: 5},
		"fundamentals": {Algorithm: AlgorithmTokenBucket, Capacity: 250, RefillRate: 250.0 / 86400},
		"macro":        {Algorithm: AlgorithmTokenBucket, Capacity: 120, RefillRate: 2},
		"retrieval":    {Algorithm: AlgorithmSlidingWindow, Limit: 120, Window: time.Minute},
		"sentiment":    {Algorithm: AlgorithmSlidingWindow, Limit: 60, Window: time.Minute},
	}
}

// limiter is one resource's mutable budget state.
type limiter interface {
	// acquire debits n permits, or reports the wait until they accrue.
	acquire(n int, now time.Time) (granted bool, retryAfter time.Duration)
	// release refunds n permits debited by a cancelled caller.
	release(n int, now time.Time)
	// remaining reports the currently available capacity.
	remaining(now time.Time) float64
}

// tokenBucket refills continuously at refillRate tokens/sec up to capacity.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(cfg ResourceConfig, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     cfg.Capacity,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		lastRefill: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
}

func (b *tokenBucket) acquire(n int, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	need := float64(n)
	if b.tokens >= need {
		b.tokens -= need
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Duration(math.MaxInt64)
	}
	wait := (need - b.tokens) / b.refillRate
	return false, time.Duration(wait * float64(time.Second))
}

func (b *tokenBucket) release(n int, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	b.tokens = math.Min(b.capacity, b.tokens+float64(n))
}

func (b *tokenBucket) remaining(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens
}

// slidingWindow counts grants in the trailing window.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time
}

func newSlidingWindow(cfg ResourceConfig) *slidingWindow {
	return &slidingWindow{
		limit:  cfg.Limit,
		window: cfg.Window,
		grants: make([]time.Time, 0, cfg.Limit),
	}
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants = append(w.grants[:0], w.grants[i:]...)
	}
}

func (w *slidingWindow) acquire(n int, now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.grants)+n <= w.limit {
		for i := 0; i < n; i++ {
			w.grants = append(w.grants, now)
		}
		return true, 0
	}
	if n > w.limit {
		return false, time.Duration(math.MaxInt64)
	}
	// Wait until enough of the oldest grants exit the window.
	freeing := len(w.grants) + n - w.limit
	exit := w.grants[freeing-1].Add(w.window)
	wait := exit.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

func (w *slidingWindow) release(n int, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > len(w.grants) {
		n = len(w.grants)
	}
	w.grants = w.grants[:len(w.grants)-n]
}

func (w *slidingWindow) remaining(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return float64(w.limit - len(w.grants))
}

// RateLimiter holds one budget per configured resource. Configuration is
// immutable after construction; only the per-resource state mutates.
type RateLimiter struct {
	limiters  map[string]limiter
	collector *metrics.Collector
	log       *logrus.Entry
	now       func() time.Time

	unknownMu sync.Mutex
	unknown   map[string]struct{}
}

// RateLimiterOption customizes limiter construction.
type RateLimiterOption func(*RateLimiter)

// WithLimiterCollector mirrors remaining-capacity gauges into the collector.
func WithLimiterCollector(col *metrics.Collector) RateLimiterOption {
	return func(rl *RateLimiter) { rl.collector = col }
}

func withLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) { rl.now = now }
}

// NewRateLimiter builds budgets for every configured resource. Pass nil to
// use DefaultResources.
func NewRateLimiter(resources map[string]ResourceConfig, log *logrus.Logger, opts ...RateLimiterOption) *RateLimiter {
	if resources == nil {
		resources = DefaultResources()
	}
	if log == nil {
		log = logrus.New()
	}

	rl := &RateLimiter{
		limiters: make(map[string]limiter, len(resources)),
		log:      log.WithField("component", "governor.ratelimit"),
		now:      time.Now,
		unknown:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	for name, cfg := range resources {
		switch cfg.Algorithm {
		case AlgorithmSlidingWindow:
			rl.limiters[name] = newSlidingWindow(cfg)
		default:
			rl.limiters[name] = newTokenBucket(cfg, rl.now())
		}
	}
	return rl
}

// Acquire debits n permits from the resource's budget. Exhaustion is not an
// error: the caller gets granted=false plus the wait until n permits accrue
// and chooses to block-and-retry or fail fast. Unknown resources are granted
// with a one-time warning.
func (rl *RateLimiter) Acquire(resource string, n int) (granted bool, retryAfter time.Duration) {
	if n <= 0 {
		n = 1
	}
	lim, ok := rl.limiters[resource]
	if !ok {
		rl.warnUnknown(resource)
		return true, 0
	}

	now := rl.now()
	granted, retryAfter = lim.acquire(n, now)
	if rl.collector != nil {
		rl.collector.TrackLimiterRemaining(resource, lim.remaining(now))
	}
	return granted, retryAfter
}

// Release refunds n permits previously granted to a caller whose protected
// call was cancelled before it ran, so no partial debits linger.
func (rl *RateLimiter) Release(resource string, n int) {
	if n <= 0 {
		n = 1
	}
	lim, ok := rl.limiters[resource]
	if !ok {
		return
	}
	now := rl.now()
	lim.release(n, now)
	if rl.collector != nil {
		rl.collector.TrackLimiterRemaining(resource, lim.remaining(now))
	}
}

// Remaining reports the resource's currently available capacity. Unknown
// resources report +Inf.
func (rl *RateLimiter) Remaining(resource string) float64 {
	lim, ok := rl.limiters[resource]
	if !ok {
		return math.Inf(1)
	}
	return lim.remaining(rl.now())
}

// Resources lists the configured resource names.
func (rl *RateLimiter) Resources() []string {
	names := make([]string, 0, len(rl.limiters))
	for name := range rl.limiters {
		names = append(names, name)
	}
	return names
}

func (rl *RateLimiter) warnUnknown(resource string) {
	rl.unknownMu.Lock()
	defer rl.unknownMu.Unlock()
	if _, seen := rl.unknown[resource]; !seen {
		rl.unknown[resource] = struct{}{}
		rl.log.WithField("resource", resource).Warn("no budget configured, allowing by default")
	}
}
