package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 0.6, cfg.Agent.SufficiencyConfidence)
	assert.Equal(t, 0.75, cfg.Agent.EarlyExitConfidence)
	assert.Equal(t, 2, cfg.Agent.MaxSourceFailures)
	assert.Equal(t, 1000, cfg.Memory.MaxItems)
	assert.Equal(t, 3, cfg.Memory.RetrievalTopK)
	assert.Equal(t, 2, cfg.Feedback.Workers)
	assert.Equal(t, 16, cfg.Feedback.QueueSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Agent.MaxIterations, cfg.Agent.MaxIterations)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desagent.yaml")
	yaml := `
agent:
  max_iterations: 12
memory:
  max_items: 50
  bank_path: /tmp/bank.json
sources:
  theory_url: http://localhost:9001
logging:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Agent.MaxIterations)
	assert.Equal(t, 50, cfg.Memory.MaxItems)
	assert.Equal(t, "/tmp/bank.json", cfg.Memory.BankPath)
	assert.Equal(t, "http://localhost:9001", cfg.Sources.TheoryURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.75, cfg.Agent.EarlyExitConfidence)
	assert.Equal(t, 2, cfg.Feedback.Workers)
}

func TestLoad_EnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  max_iterations: 12\n"), 0o644))

	t.Setenv("DESAGENT_AGENT_MAX_ITERATIONS", "4")
	t.Setenv("DESAGENT_FEEDBACK_WORKERS", "7")
	t.Setenv("DESAGENT_MODEL_NAME", "claude-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, 7, cfg.Feedback.Workers)
	assert.Equal(t, "claude-test", cfg.Model.Name)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	_ = logger.Sync()

	_, err = NewLogger(LoggingConfig{Level: "shouting"})
	assert.Error(t, err)
}
