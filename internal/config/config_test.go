package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Debate.MaxRounds)
	assert.InDelta(t, 0.7, cfg.Debate.AgreementThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Memory.ShortTermCap)
	assert.Equal(t, 500, cfg.Memory.LongTermCap)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.RequestTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEBATE_MAX_ROUNDS", "5")
	t.Setenv("MEMORY_SHORT_TERM_CAP", "25")
	t.Setenv("AGENT_TIMEOUT", "10s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Debate.MaxRounds)
	assert.Equal(t, 25, cfg.Memory.ShortTermCap)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.AgentTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Orchestrator.Debate.MaxRounds, "debate tuning propagates to the orchestrator")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "committee.yaml")
	content := []byte("logging:\n  level: warn\ndebate:\n  max_rounds: 2\nretrieval:\n  base_url: http://retrieval:8080\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("COMMITTEE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Debate.MaxRounds)
	assert.Equal(t, "http://retrieval:8080", cfg.Retrieval.BaseURL)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "committee.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))
	t.Setenv("COMMITTEE_CONFIG", path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("COMMITTEE_CONFIG", "/nonexistent/committee.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.Debate.AgreementThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Memory.Weights.Recency = 0.9
	assert.Error(t, cfg.Validate())

	assert.NoError(t, defaults().Validate())
}
