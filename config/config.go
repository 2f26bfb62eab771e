package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quorumflow/quorumflow/council"
	"github.com/quorumflow/quorumflow/orchestrator"
	"github.com/quorumflow/quorumflow/rag"
)

// Config is the full engine configuration.
type Config struct {
	Log         LogConfig                   `yaml:"log" env:"LOG"`
	LLM         LLMConfig                   `yaml:"llm" env:"LLM"`
	Retrieval   rag.RetrieverConfig         `yaml:"retrieval" env:"RETRIEVAL"`
	Qdrant      rag.QdrantConfig            `yaml:"qdrant" env:"QDRANT"`
	Redis       RedisConfig                 `yaml:"redis" env:"REDIS"`
	Council     orchestrator.CouncilConfig  `yaml:"council" env:"COUNCIL"`
	Voters      []council.VoterConfig       `yaml:"voters" env:"-"`
	Strategy    string                      `yaml:"strategy" env:"STRATEGY"`
	Pipeline    orchestrator.PipelineConfig `yaml:"pipeline" env:"PIPELINE"`
	Persistence PersistenceConfig           `yaml:"persistence" env:"PERSISTENCE"`
	Metrics     MetricsConfig               `yaml:"metrics" env:"METRICS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs (stdout, stderr, file paths).
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// LLMConfig configures completion and embedding providers.
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	// Model is the default completion model.
	Model string `yaml:"model" env:"MODEL"`
	// EmbeddingModel used for retrieval queries.
	EmbeddingModel string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RateLimitRPS caps completion calls per second; zero disables the cap.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TokenEncoding is the tiktoken encoding for context budgeting.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// RedisConfig configures the optional redis-backed intent cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// PersistenceConfig configures the result sink.
type PersistenceConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver: sqlite or postgres.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `yaml:"dsn" env:"DSN"`
}

// MetricsConfig configures prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// Default returns the full default configuration: three stance voters,
// weighted-confidence aggregation, debate on.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:8000",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        60 * time.Second,
			TokenEncoding:  "cl100k_base",
		},
		Retrieval: rag.DefaultRetrieverConfig(),
		Qdrant:    rag.QdrantConfig{Host: "localhost", Port: 6333},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  15 * time.Minute,
		},
		Council: orchestrator.DefaultCouncilConfig(),
		Voters: []council.VoterConfig{
			{Stance: council.StanceAnalytical},
			{Stance: council.StanceCreative},
			{Stance: council.StanceCritical},
		},
		Strategy: council.StrategyWeightedConfidence,
		Pipeline: orchestrator.DefaultPipelineConfig(),
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			DSN:    "quorumflow.db",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if len(c.Voters) == 0 {
		errs = append(errs, "at least one voter is required")
	}
	for i, v := range c.Voters {
		if _, err := council.ParseStance(string(v.Stance)); err != nil {
			errs = append(errs, fmt.Sprintf("voter %d: %v", i, err))
		}
		if v.Temperature != nil && (*v.Temperature < 0 || *v.Temperature > 2) {
			errs = append(errs, fmt.Sprintf("voter %d: temperature must be in [0,2]", i))
		}
		if v.Weight < 0 {
			errs = append(errs, fmt.Sprintf("voter %d: weight must not be negative", i))
		}
	}

	switch c.Strategy {
	case "", council.StrategyWeightedConfidence, council.StrategyHighestConfidence,
		council.StrategyMajority, council.StrategySynthesis:
	default:
		errs = append(errs, fmt.Sprintf("unknown strategy %q", c.Strategy))
	}

	if c.Council.ConsensusThreshold < 0 || c.Council.ConsensusThreshold > 1 {
		errs = append(errs, "consensus_threshold must be in [0,1]")
	}
	if c.Council.MaxRounds < 1 {
		errs = append(errs, "max_rounds must be at least 1")
	}
	if c.Retrieval.MinAcceptable < 1 {
		errs = append(errs, "retrieval min_acceptable must be at least 1")
	}
	if c.Persistence.Enabled {
		switch c.Persistence.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("unknown persistence driver %q", c.Persistence.Driver))
		}
		if c.Persistence.DSN == "" {
			errs = append(errs, "persistence enabled without a dsn")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
