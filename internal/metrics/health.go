package metrics

import "time"

// HealthState is the aggregate health classification.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateUnhealthy HealthState = "unhealthy"
)

// HealthThresholds configure the rollup. Zero values fall back to defaults.
type HealthThresholds struct {
	// MaxErrorRate is the tolerated request error fraction (0-1).
	MaxErrorRate float64 `yaml:"max_error_rate"`
	// MaxP99Latency is the tolerated p99 request latency.
	MaxP99Latency time.Duration `yaml:"max_p99_latency"`
}

// DefaultHealthThresholds returns the standard rollup thresholds.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MaxErrorRate:  0.05,
		MaxP99Latency: 5 * time.Second,
	}
}

// HealthStatus is the health rollup snapshot.
type HealthStatus struct {
	State         HealthState   `json:"state"`
	ErrorRate     float64       `json:"error_rate"`
	P99Latency    time.Duration `json:"p99_latency"`
	TotalRequests float64       `json:"total_requests"`
	Uptime        time.Duration `json:"uptime"`
}

// Health computes the aggregate rollup from the request series: healthy when
// both error rate and p99 latency are under their thresholds, degraded when
// exactly one is breached, unhealthy when both are.
func (c *Collector) Health(t HealthThresholds) HealthStatus {
	if t.MaxErrorRate == 0 {
		t.MaxErrorRate = DefaultHealthThresholds().MaxErrorRate
	}
	if t.MaxP99Latency == 0 {
		t.MaxP99Latency = DefaultHealthThresholds().MaxP99Latency
	}

	total := c.Counter("analysis.requests", nil)
	errs := c.Counter("analysis.errors", nil)

	errorRate := 0.0
	if total > 0 {
		errorRate = errs / total
	}
	p99 := time.Duration(c.TimerStats("analysis.latency", nil).P99 * float64(time.Second))

	breaches := 0
	if errorRate > t.MaxErrorRate {
		breaches++
	}
	if p99 > t.MaxP99Latency {
		breaches++
	}

	state := StateHealthy
	switch breaches {
	case 1:
		state = StateDegraded
	case 2:
		state = StateUnhealthy
	}

	return HealthStatus{
		State:         state,
		ErrorRate:     errorRate,
		P99Latency:    p99,
		TotalRequests: total,
		Uptime:        c.Uptime(),
	}
}
