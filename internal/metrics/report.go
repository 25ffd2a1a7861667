package metrics

import (
	"strings"
	"time"
)

// PerformanceReport is a point-in-time snapshot of the whole process,
// suitable for JSON rendering on an admin surface.
type PerformanceReport struct {
	Health   HealthStatus       `json:"health"`
	Uptime   time.Duration      `json:"uptime"`
	Requests RequestMetrics     `json:"requests"`
	Agents   AgentMetrics       `json:"agents"`
	Cache    CacheReport        `json:"cache"`
	Debate   DebateMetrics      `json:"debate"`
	Gauges   map[string]float64 `json:"gauges,omitempty"`
}

// RequestMetrics summarizes the analysis request series.
type RequestMetrics struct {
	Total   float64     `json:"total"`
	Errors  float64     `json:"errors"`
	Latency SeriesStats `json:"latency"`
}

// AgentMetrics summarizes committee member executions.
type AgentMetrics struct {
	Executions float64                `json:"executions"`
	Failures   float64                `json:"failures"`
	Duration   map[string]SeriesStats `json:"duration,omitempty"`
}

// CacheReport sums cache traffic across namespaces.
type CacheReport struct {
	Accesses float64 `json:"accesses"`
	Hits     float64 `json:"hits"`
	Misses   float64 `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// DebateMetrics summarizes completed debates.
type DebateMetrics struct {
	Completed float64     `json:"completed"`
	Rounds    SeriesStats `json:"rounds"`
	Duration  SeriesStats `json:"duration"`
}

// Report assembles the full performance snapshot.
func (c *Collector) Report(t HealthThresholds) PerformanceReport {
	report := PerformanceReport{
		Health: c.Health(t),
		Uptime: c.Uptime(),
		Requests: RequestMetrics{
			Total:   c.Counter("analysis.requests", nil),
			Errors:  c.Counter("analysis.errors", nil),
			Latency: c.TimerStats("analysis.latency", nil),
		},
		Debate: DebateMetrics{
			Completed: c.Counter("debate.completed", nil),
			Rounds:    c.HistogramStats("debate.rounds", nil),
			Duration:  c.TimerStats("debate.duration", nil),
		},
	}

	c.mu.RLock()
	agents := AgentMetrics{Duration: make(map[string]SeriesStats)}
	cache := CacheReport{}
	for key, value := range c.counters {
		switch {
		case strings.HasPrefix(key, "agent.executions["):
			agents.Executions += value
			if strings.Contains(key, "status=failure") {
				agents.Failures += value
			}
		case strings.HasPrefix(key, "cache.accesses["):
			cache.Accesses += value
		case strings.HasPrefix(key, "cache.hits["):
			cache.Hits += value
		case strings.HasPrefix(key, "cache.misses["):
			cache.Misses += value
		}
	}
	for key, samples := range c.timers {
		if agent, ok := seriesTag(key, "agent.duration[", "agent="); ok {
			agents.Duration[agent] = summarize(append([]float64(nil), samples...))
		}
	}
	gauges := make(map[string]float64, len(c.gauges))
	for key, value := range c.gauges {
		gauges[key] = value
	}
	c.mu.RUnlock()

	if cache.Accesses > 0 {
		cache.HitRate = cache.Hits / cache.Accesses
	}
	report.Agents = agents
	report.Cache = cache
	report.Gauges = gauges
	return report
}

// seriesTag extracts one tag value from a series key like
// "agent.duration[agent=value_investing]".
func seriesTag(key, prefix, tag string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(key, prefix), "]")
	for _, pair := range strings.Split(inner, ",") {
		if strings.HasPrefix(pair, tag) {
			return strings.TrimPrefix(pair, tag), true
		}
	}
	return "", false
}
