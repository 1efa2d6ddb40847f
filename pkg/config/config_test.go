package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAccuracyThreshold, cfg.Synthesis.AccuracyThreshold)
	assert.Equal(t, DefaultIterationBudget, cfg.Synthesis.IterationBudget)
	assert.Equal(t, DefaultTriggerThreshold, cfg.Synthesis.TriggerThreshold)
	assert.Equal(t, DefaultListenAddr, cfg.Server.Addr)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
synthesis:
  accuracy_threshold: 0.9
  iteration_budget: 3
  trigger_threshold: 50
provider:
  name: ollama
  base_url: http://localhost:11434
  model: llama3
server:
  addr: 127.0.0.1:9999
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Synthesis.AccuracyThreshold)
	assert.Equal(t, 3, cfg.Synthesis.IterationBudget)
	assert.Equal(t, 50, cfg.Synthesis.TriggerThreshold)
	assert.Equal(t, "ollama", cfg.Provider.Name)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)

	// Unspecified fields keep defaults.
	assert.Equal(t, DefaultBenchmarkTrials, cfg.Synthesis.BenchmarkTrials)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELOS_ACCURACY_THRESHOLD", "0.75")
	t.Setenv("TELOS_PROVIDER_MODEL", "gpt-4o-mini")
	t.Setenv("TELOS_DB_PATH", "/tmp/override.db")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 0.75, cfg.Synthesis.AccuracyThreshold)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero accuracy", func(c *Config) { c.Synthesis.AccuracyThreshold = 0 }},
		{"accuracy above one", func(c *Config) { c.Synthesis.AccuracyThreshold = 1.5 }},
		{"zero iteration budget", func(c *Config) { c.Synthesis.IterationBudget = 0 }},
		{"zero candidates", func(c *Config) { c.Synthesis.CandidateCount = 0 }},
		{"negative trigger", func(c *Config) { c.Synthesis.TriggerThreshold = -1 }},
		{"zero solver timeout", func(c *Config) { c.Router.SolverTimeout = 0 }},
		{"empty sandbox command", func(c *Config) { c.Sandbox.Command = nil }},
		{"negative budget", func(c *Config) { c.Budget.Daily = -5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
