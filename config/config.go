// Package config loads desagent configuration from YAML with environment
// overrides.
//
// Precedence, highest first:
//  1. Environment variables (DESAGENT_AGENT_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. Defaults
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const envPrefix = "DESAGENT_"

// Config is the full runtime configuration.
type Config struct {
	Agent    AgentConfig    `koanf:"agent"`
	Memory   MemoryConfig   `koanf:"memory"`
	Model    ModelConfig    `koanf:"model"`
	Storage  StorageConfig  `koanf:"storage"`
	Sources  SourcesConfig  `koanf:"sources"`
	Feedback FeedbackConfig `koanf:"feedback"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations         int     `koanf:"max_iterations"`
	SufficiencyConfidence float64 `koanf:"sufficiency_confidence"`
	EarlyExitConfidence   float64 `koanf:"early_exit_confidence"`
	MaxSourceFailures     int     `koanf:"max_source_failures"`
}

// MemoryConfig tunes the experience bank.
type MemoryConfig struct {
	MaxItems      int     `koanf:"max_items"`
	RetrievalTopK int     `koanf:"retrieval_top_k"`
	MinSimilarity float64 `koanf:"min_similarity"`
	BankPath      string  `koanf:"bank_path"`
	Autosave      bool    `koanf:"autosave"`
	CacheEntries  int64   `koanf:"cache_entries"`
}

// ModelConfig selects the LLM backend.
type ModelConfig struct {
	Name      string `koanf:"name"`
	MaxTokens int64  `koanf:"max_tokens"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	RecommendationsDir string `koanf:"recommendations_dir"`
}

// SourcesConfig points at the external retrieval services. An empty URL
// disables that source.
type SourcesConfig struct {
	TheoryURL     string `koanf:"theory_url"`
	LiteratureURL string `koanf:"literature_url"`
}

// FeedbackConfig sizes the ingestion pool.
type FeedbackConfig struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			MaxIterations:         8,
			SufficiencyConfidence: 0.6,
			EarlyExitConfidence:   0.75,
			MaxSourceFailures:     2,
		},
		Memory: MemoryConfig{
			MaxItems:      1000,
			RetrievalTopK: 3,
			MinSimilarity: 0.0,
			BankPath:      "data/memory_bank.json",
			Autosave:      true,
			CacheEntries:  10_000,
		},
		Model: ModelConfig{
			Name:      "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Storage: StorageConfig{
			RecommendationsDir: "data/recommendations",
		},
		Feedback: FeedbackConfig{
			Workers:   2,
			QueueSize: 16,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (optional) and the environment.
// A missing file is not an error; defaults then apply.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	// DESAGENT_AGENT_MAX_ITERATIONS -> agent.max_iterations
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		for _, section := range []string{"agent", "memory", "model", "storage", "sources", "feedback", "logging"} {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + strings.TrimPrefix(key, section+"_")
			}
		}
		return key
	}), nil)
	if err != nil {
		return cfg, fmt.Errorf("loading environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds a zap logger from the logging section.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
