package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAggregates(t *testing.T) {
	c := NewCollector()

	c.TrackRequest(120*time.Millisecond, nil)
	c.TrackRequest(80*time.Millisecond, errors.New("boom"))
	c.TrackAgentExecution("value_investing", 40*time.Millisecond, true)
	c.TrackAgentExecution("growth_vc", 55*time.Millisecond, false)
	c.TrackCacheAccess("analysis", true)
	c.TrackCacheAccess("analysis", false)
	c.TrackCacheAccess("retrieval", true)
	c.TrackDebate(2, 300*time.Millisecond)

	report := c.Report(DefaultHealthThresholds())

	assert.Equal(t, float64(2), report.Requests.Total)
	assert.Equal(t, float64(1), report.Requests.Errors)
	assert.Equal(t, 2, report.Requests.Latency.Count)

	assert.Equal(t, float64(2), report.Agents.Executions)
	assert.Equal(t, float64(1), report.Agents.Failures)
	require.Contains(t, report.Agents.Duration, "value_investing")
	assert.Equal(t, 1, report.Agents.Duration["value_investing"].Count)

	assert.Equal(t, float64(3), report.Cache.Accesses)
	assert.Equal(t, float64(2), report.Cache.Hits)
	assert.InDelta(t, 2.0/3.0, report.Cache.HitRate, 1e-9)

	assert.Equal(t, float64(1), report.Debate.Completed)
	assert.Equal(t, 1, report.Debate.Rounds.Count)
	assert.Greater(t, report.Uptime, time.Duration(0))
}

func TestReportEmptyCollector(t *testing.T) {
	c := NewCollector()
	report := c.Report(DefaultHealthThresholds())

	assert.Zero(t, report.Requests.Total)
	assert.Zero(t, report.Cache.HitRate)
	assert.Equal(t, StateHealthy, report.Health.State)
}
