// Package metrics collects counters, gauges, histograms and timers from
// every component boundary and aggregates them into a health rollup.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxSamples bounds the per-series sample buffers for histograms and timers.
const maxSamples = 1000

// Collector is the process-wide metrics sink. All methods are safe for
// concurrent use.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	timers     map[string][]float64
	start      time.Time

	registry *prometheus.Registry

	operationCount   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	cacheSize        *prometheus.GaugeVec
	limiterRemaining *prometheus.GaugeVec
	debateRounds     prometheus.Histogram
}

// NewCollector creates a collector with its own prometheus registry so two
// collectors never collide on metric registration.
func NewCollector() *Collector {
	c := &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timers:     make(map[string][]float64),
		start:      time.Now(),
		registry:   prometheus.NewRegistry(),

		operationCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "committee_operations_total",
				Help: "Total operations by name and status",
			},
			[]string{"operation", "status"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "committee_operation_duration_seconds",
				Help:    "Operation duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "committee_cache_hits_total",
				Help: "Total cache hits per namespace",
			},
			[]string{"namespace"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "committee_cache_misses_total",
				Help: "Total cache misses per namespace",
			},
			[]string{"namespace"},
		),
		cacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "committee_cache_size",
				Help: "Current entry count per cache namespace",
			},
			[]string{"namespace"},
		),
		limiterRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "committee_ratelimit_remaining",
				Help: "Remaining capacity per rate-limited resource",
			},
			[]string{"resource"},
		),
		debateRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "committee_debate_rounds",
				Help:    "Rounds used per debate",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),
	}

	c.registry.MustRegister(
		c.operationCount,
		c.operationLatency,
		c.cacheHits,
		c.cacheMisses,
		c.cacheSize,
		c.limiterRemaining,
		c.debateRounds,
	)

	return c
}

// Handler exposes the prometheus registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// IncrCounter adds value to a named counter.
func (c *Collector) IncrCounter(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.counters[key] += value
	c.mu.Unlock()
}

// SetGauge records a point-in-time value.
func (c *Collector) SetGauge(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.gauges[key] = value
	c.mu.Unlock()
}

// ObserveHistogram records a value into a bounded sample buffer.
func (c *Collector) ObserveHistogram(name string, value float64, tags map[string]string) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.histograms[key] = appendSample(c.histograms[key], value)
	c.mu.Unlock()
}

// ObserveTimer records a duration sample in seconds.
func (c *Collector) ObserveTimer(name string, d time.Duration, tags map[string]string) {
	key := seriesKey(name, tags)
	c.mu.Lock()
	c.timers[key] = appendSample(c.timers[key], d.Seconds())
	c.mu.Unlock()
}

// Counter returns the current value of a counter, zero if never written.
func (c *Collector) Counter(name string, tags map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[seriesKey(name, tags)]
}

// Gauge returns the current gauge value and whether it has been set.
func (c *Collector) Gauge(name string, tags map[string]string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.gauges[seriesKey(name, tags)]
	return v, ok
}

// SeriesStats summarizes a histogram or timer series.
type SeriesStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// TimerStats summarizes a timer series in seconds.
func (c *Collector) TimerStats(name string, tags map[string]string) SeriesStats {
	c.mu.RLock()
	samples := append([]float64(nil), c.timers[seriesKey(name, tags)]...)
	c.mu.RUnlock()
	return summarize(samples)
}

// HistogramStats summarizes a histogram series.
func (c *Collector) HistogramStats(name string, tags map[string]string) SeriesStats {
	c.mu.RLock()
	samples := append([]float64(nil), c.histograms[seriesKey(name, tags)]...)
	c.mu.RUnlock()
	return summarize(samples)
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.start)
}

// TrackOperation records one operation boundary: counter by status, latency
// timer, and the prometheus mirrors.
func (c *Collector) TrackOperation(operation string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	tags := map[string]string{"operation": operation, "status": status}
	c.IncrCounter("operations", 1, tags)
	c.ObserveTimer("operation.latency", d, map[string]string{"operation": operation})

	c.operationCount.WithLabelValues(operation, status).Inc()
	c.operationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// TrackRequest records one analysis request end to end. The request series
// feed the health rollup.
func (c *Collector) TrackRequest(d time.Duration, err error) {
	c.IncrCounter("analysis.requests", 1, nil)
	if err != nil {
		c.IncrCounter("analysis.errors", 1, nil)
	}
	c.ObserveTimer("analysis.latency", d, nil)
	c.TrackOperation("analysis", d, err)
}

// TrackAgentExecution records one agent Analyze call.
func (c *Collector) TrackAgentExecution(role string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.IncrCounter("agent.executions", 1, map[string]string{"agent": role, "status": status})
	c.ObserveTimer("agent.duration", d, map[string]string{"agent": role})

	c.operationCount.WithLabelValues("agent."+role, status).Inc()
	c.operationLatency.WithLabelValues("agent." + role).Observe(d.Seconds())
}

// TrackCacheAccess records a cache lookup per namespace.
func (c *Collector) TrackCacheAccess(namespace string, hit bool) {
	tags := map[string]string{"namespace": namespace}
	c.IncrCounter("cache.accesses", 1, tags)
	if hit {
		c.IncrCounter("cache.hits", 1, tags)
		c.cacheHits.WithLabelValues(namespace).Inc()
	} else {
		c.IncrCounter("cache.misses", 1, tags)
		c.cacheMisses.WithLabelValues(namespace).Inc()
	}
}

// TrackCacheSize records the current entry count of a cache namespace.
func (c *Collector) TrackCacheSize(namespace string, size int) {
	c.SetGauge("cache.size", float64(size), map[string]string{"namespace": namespace})
	c.cacheSize.WithLabelValues(namespace).Set(float64(size))
}

// TrackLimiterRemaining records the remaining capacity of a rate budget.
func (c *Collector) TrackLimiterRemaining(resource string, remaining float64) {
	c.SetGauge("ratelimit.remaining", remaining, map[string]string{"resource": resource})
	c.limiterRemaining.WithLabelValues(resource).Set(remaining)
}

// TrackDebate records a completed debate.
func (c *Collector) TrackDebate(roundsUsed int, d time.Duration) {
	c.IncrCounter("debate.completed", 1, nil)
	c.ObserveHistogram("debate.rounds", float64(roundsUsed), nil)
	c.ObserveTimer("debate.duration", d, nil)
	c.debateRounds.Observe(float64(roundsUsed))
}

func appendSample(samples []float64, value float64) []float64 {
	if len(samples) >= maxSamples {
		samples = samples[1:]
	}
	return append(samples, value)
}

// seriesKey builds a stable key from a metric name and sorted tags.
func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte(']')
	return b.String()
}

func summarize(samples []float64) SeriesStats {
	if len(samples) == 0 {
		return SeriesStats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)

	return SeriesStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Mean:  sum / float64(n),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
