// Package config assembles the committee's runtime configuration from
// defaults, an optional YAML file and environment overrides, in that
// precedence order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/committee/internal/debate"
	"github.com/quorumlabs/committee/internal/governor"
	"github.com/quorumlabs/committee/internal/memory"
	"github.com/quorumlabs/committee/internal/metrics"
	"github.com/quorumlabs/committee/internal/orchestrator"
)

// Config is the full runtime configuration.
type Config struct {
	Logging      LoggingConfig       `yaml:"logging"`
	Redis        RedisConfig         `yaml:"redis"`
	Retrieval    EndpointConfig      `yaml:"retrieval"`
	MarketData   EndpointConfig      `yaml:"market_data"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Governor     governor.Config     `yaml:"governor"`
	Memory       memory.Config       `yaml:"memory"`
	Debate       debate.Config       `yaml:"debate"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
}

// LoggingConfig controls the logrus root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// RedisConfig is the optional L2 cache tier. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EndpointConfig points at one outbound HTTP service. Empty BaseURL means
// the service is not wired and a static fallback is used instead.
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the prometheus endpoint and health thresholds.
type MetricsConfig struct {
	ListenAddr string                   `yaml:"listen_addr"` // empty disables the HTTP endpoint
	Health     metrics.HealthThresholds `yaml:"health"`
}

// Load builds the configuration: defaults, then the YAML file at
// COMMITTEE_CONFIG (if any), then environment variables. A missing .env
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("COMMITTEE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Retrieval:    EndpointConfig{Timeout: 15 * time.Second},
		MarketData:   EndpointConfig{Timeout: 30 * time.Second},
		Metrics:      MetricsConfig{Health: metrics.DefaultHealthThresholds()},
		Governor:     governor.DefaultConfig(),
		Memory:       memory.DefaultConfig(),
		Debate:       debate.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("REDIS_DB", c.Redis.DB)

	c.Retrieval.BaseURL = getEnv("RETRIEVAL_URL", c.Retrieval.BaseURL)
	c.Retrieval.APIKey = getEnv("RETRIEVAL_API_KEY", c.Retrieval.APIKey)
	c.Retrieval.Timeout = getDurationEnv("RETRIEVAL_TIMEOUT", c.Retrieval.Timeout)

	c.MarketData.BaseURL = getEnv("MARKET_DATA_URL", c.MarketData.BaseURL)
	c.MarketData.APIKey = getEnv("MARKET_DATA_API_KEY", c.MarketData.APIKey)
	c.MarketData.Timeout = getDurationEnv("MARKET_DATA_TIMEOUT", c.MarketData.Timeout)

	c.Metrics.ListenAddr = getEnv("METRICS_ADDR", c.Metrics.ListenAddr)

	c.Governor.MaxAttempts = getIntEnv("GOVERNOR_MAX_ATTEMPTS", c.Governor.MaxAttempts)
	c.Governor.MaxRetryWait = getDurationEnv("GOVERNOR_MAX_RETRY_WAIT", c.Governor.MaxRetryWait)

	c.Memory.ShortTermCap = getIntEnv("MEMORY_SHORT_TERM_CAP", c.Memory.ShortTermCap)
	c.Memory.LongTermCap = getIntEnv("MEMORY_LONG_TERM_CAP", c.Memory.LongTermCap)
	c.Memory.Weights.Recency = getFloatEnv("MEMORY_WEIGHT_RECENCY", c.Memory.Weights.Recency)
	c.Memory.Weights.Importance = getFloatEnv("MEMORY_WEIGHT_IMPORTANCE", c.Memory.Weights.Importance)
	c.Memory.Weights.Frequency = getFloatEnv("MEMORY_WEIGHT_FREQUENCY", c.Memory.Weights.Frequency)
	c.Memory.RecencyHalfLife = getDurationEnv("MEMORY_RECENCY_HALF_LIFE", c.Memory.RecencyHalfLife)

	c.Debate.MaxRounds = getIntEnv("DEBATE_MAX_ROUNDS", c.Debate.MaxRounds)
	c.Debate.AgreementThreshold = getFloatEnv("DEBATE_AGREEMENT_THRESHOLD", c.Debate.AgreementThreshold)

	c.Orchestrator.RequestTimeout = getDurationEnv("REQUEST_TIMEOUT", c.Orchestrator.RequestTimeout)
	c.Orchestrator.AgentTimeout = getDurationEnv("AGENT_TIMEOUT", c.Orchestrator.AgentTimeout)
	c.Orchestrator.Debate = c.Debate
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var problems []string
	if c.Debate.MaxRounds < 0 {
		problems = append(problems, "debate.max_rounds must not be negative")
	}
	if c.Debate.AgreementThreshold < 0 || c.Debate.AgreementThreshold > 1 {
		problems = append(problems, "debate.agreement_threshold must be in [0,1]")
	}
	if sum := c.Memory.Weights.Recency + c.Memory.Weights.Importance + c.Memory.Weights.Frequency; sum > 0 && (sum < 0.99 || sum > 1.01) {
		problems = append(problems, "memory.weights must sum to 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
