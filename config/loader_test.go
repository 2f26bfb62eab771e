package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumflow/quorumflow/council"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, council.StrategyWeightedConfidence, cfg.Strategy)
	require.Len(t, cfg.Voters, 3)
	assert.Equal(t, council.StanceAnalytical, cfg.Voters[0].Stance)
	assert.True(t, cfg.Council.DebateEnabled)
	assert.Equal(t, 3, cfg.Council.MaxRounds)
	assert.Equal(t, 1, cfg.Retrieval.MinAcceptable)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
strategy: synthesis
council:
  max_rounds: 2
  consensus_threshold: 0.85
retrieval:
  max_results: 4
voters:
  - stance: analytical
    weight: 2.0
  - stance: critical
    temperature: 0.1
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, council.StrategySynthesis, cfg.Strategy)
	assert.Equal(t, 2, cfg.Council.MaxRounds)
	assert.Equal(t, 0.85, cfg.Council.ConsensusThreshold)
	assert.Equal(t, 4, cfg.Retrieval.MaxResults)
	require.Len(t, cfg.Voters, 2)
	assert.Equal(t, 2.0, cfg.Voters[0].Weight)
	require.NotNil(t, cfg.Voters[1].Temperature)
	assert.Equal(t, 0.1, *cfg.Voters[1].Temperature)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("QUORUMFLOW_LOG_LEVEL", "warn")
	t.Setenv("QUORUMFLOW_STRATEGY", "majority")
	t.Setenv("QUORUMFLOW_COUNCIL_MAX_ROUNDS", "5")
	t.Setenv("QUORUMFLOW_COUNCIL_SCOPES", "docs, wiki")
	t.Setenv("QUORUMFLOW_LLM_RATE_LIMIT_RPS", "2.5")
	t.Setenv("QUORUMFLOW_PERSISTENCE_ENABLED", "true")
	t.Setenv("QUORUMFLOW_REDIS_TTL", "30m")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, council.StrategyMajority, cfg.Strategy)
	assert.Equal(t, 5, cfg.Council.MaxRounds)
	assert.Equal(t, []string{"docs", "wiki"}, cfg.Council.Scopes)
	assert.Equal(t, 2.5, cfg.LLM.RateLimitRPS)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "30m0s", cfg.Redis.TTL.String())
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("QF_LOG_LEVEL", "error")
	cfg, err := NewLoader().WithEnvPrefix("QF").Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "log: [not a mapping")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults are valid", func(*Config) {}, true},
		{"no voters", func(c *Config) { c.Voters = nil }, false},
		{"bad stance", func(c *Config) { c.Voters[0].Stance = "grumpy" }, false},
		{"temperature out of range", func(c *Config) {
			bad := 3.5
			c.Voters[0].Temperature = &bad
		}, false},
		{"negative weight", func(c *Config) { c.Voters[0].Weight = -1 }, false},
		{"unknown strategy", func(c *Config) { c.Strategy = "coin_flip" }, false},
		{"threshold above one", func(c *Config) { c.Council.ConsensusThreshold = 1.5 }, false},
		{"zero rounds", func(c *Config) { c.Council.MaxRounds = 0 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"persistence without dsn", func(c *Config) {
			c.Persistence.Enabled = true
			c.Persistence.DSN = ""
		}, false},
		{"unknown persistence driver", func(c *Config) {
			c.Persistence.Enabled = true
			c.Persistence.Driver = "mongodb"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLogConfig_BuildLogger(t *testing.T) {
	logger, err := LogConfig{Level: "debug", Format: "console"}.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = LogConfig{Level: "shouting"}.BuildLogger()
	require.Error(t, err)
}
