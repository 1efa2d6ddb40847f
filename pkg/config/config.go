// Package config loads Telos runtime configuration from YAML files with
// environment variable overrides. The accuracy threshold, iteration budget,
// and synthesis trigger are deliberately configuration, not constants.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAccuracyThreshold = 1.0
	DefaultIterationBudget   = 5
	DefaultCandidateCount    = 3
	DefaultTriggerThreshold  = 25
	DefaultBenchmarkTrials   = 7
	DefaultMinTruthEntries   = 5

	DefaultSolverTimeout  = 10 * time.Second
	DefaultAITimeout      = 60 * time.Second
	DefaultSandboxTimeout = 5 * time.Second

	DefaultDailyBudget   = 20.00
	DefaultMonthlyBudget = 200.00

	DefaultListenAddr = "127.0.0.1:4777"
)

// Config represents the complete Telos configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Provider  ProviderConfig  `yaml:"provider"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Router    RouterConfig    `yaml:"router"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Budget    BudgetConfig    `yaml:"budget"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig configures the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures structured event logging.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// ProviderConfig configures the AI model backend.
type ProviderConfig struct {
	Name    string        `yaml:"name"` // openai | ollama
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// Cost per million tokens, used to estimate per-call spend.
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`
}

// SynthesisConfig controls candidate generation and the test-fix loop.
type SynthesisConfig struct {
	AccuracyThreshold float64 `yaml:"accuracy_threshold"`
	IterationBudget   int     `yaml:"iteration_budget"`
	CandidateCount    int     `yaml:"candidate_count"`
	BenchmarkTrials   int     `yaml:"benchmark_trials"`
	MinTruthEntries   int     `yaml:"min_truth_entries"`

	// Automatic trigger: a run starts when this many new final invocation
	// records have accumulated since the last run. Zero disables the watcher.
	TriggerThreshold int           `yaml:"trigger_threshold"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
}

// RouterConfig controls the fallback cascade.
type RouterConfig struct {
	SolverTimeout  time.Duration `yaml:"solver_timeout"`
	ChainCacheSize int           `yaml:"chain_cache_size"`
}

// SandboxConfig bounds candidate program execution.
type SandboxConfig struct {
	Command       []string      `yaml:"command"` // interpreter argv, candidate source appended
	Timeout       time.Duration `yaml:"timeout"`
	MaxOutputSize int64         `yaml:"max_output_size"`
	WorkDir       string        `yaml:"work_dir"`
}

// BudgetConfig bounds AI spend.
type BudgetConfig struct {
	Daily   float64 `yaml:"daily"`
	Monthly float64 `yaml:"monthly"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	baseDir := filepath.Join(home, ".telos")

	return &Config{
		Storage: StorageConfig{
			Path: filepath.Join(baseDir, "telos.db"),
		},
		Logging: LoggingConfig{
			Dir:      filepath.Join(baseDir, "logs"),
			MinLevel: "info",
		},
		Provider: ProviderConfig{
			Name:    "openai",
			Timeout: DefaultAITimeout,
		},
		Synthesis: SynthesisConfig{
			AccuracyThreshold: DefaultAccuracyThreshold,
			IterationBudget:   DefaultIterationBudget,
			CandidateCount:    DefaultCandidateCount,
			BenchmarkTrials:   DefaultBenchmarkTrials,
			MinTruthEntries:   DefaultMinTruthEntries,
			TriggerThreshold:  DefaultTriggerThreshold,
			WatchInterval:     30 * time.Second,
		},
		Router: RouterConfig{
			SolverTimeout:  DefaultSolverTimeout,
			ChainCacheSize: 256,
		},
		Sandbox: SandboxConfig{
			Command:       []string{"python3"},
			Timeout:       DefaultSandboxTimeout,
			MaxOutputSize: 1 << 20,
		},
		Budget: BudgetConfig{
			Daily:   DefaultDailyBudget,
			Monthly: DefaultMonthlyBudget,
		},
		Server: ServerConfig{
			Addr: DefaultListenAddr,
		},
	}
}

// Load builds the configuration from defaults, the user config file
// (~/.telos/config.yaml), and environment overrides, in that order.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".telos", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath builds the configuration from defaults, the given file, and
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELOS_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TELOS_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("TELOS_LOG_LEVEL"); v != "" {
		cfg.Logging.MinLevel = v
	}
	if v := os.Getenv("TELOS_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("TELOS_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("TELOS_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("TELOS_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("TELOS_ACCURACY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Synthesis.AccuracyThreshold = f
		}
	}
	if v := os.Getenv("TELOS_ITERATION_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Synthesis.IterationBudget = n
		}
	}
	if v := os.Getenv("TELOS_TRIGGER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Synthesis.TriggerThreshold = n
		}
	}
	if v := os.Getenv("TELOS_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Synthesis.AccuracyThreshold <= 0 || c.Synthesis.AccuracyThreshold > 1 {
		return fmt.Errorf("synthesis.accuracy_threshold must be in (0, 1], got %f", c.Synthesis.AccuracyThreshold)
	}
	if c.Synthesis.IterationBudget < 1 {
		return fmt.Errorf("synthesis.iteration_budget must be >= 1, got %d", c.Synthesis.IterationBudget)
	}
	if c.Synthesis.CandidateCount < 1 {
		return fmt.Errorf("synthesis.candidate_count must be >= 1, got %d", c.Synthesis.CandidateCount)
	}
	if c.Synthesis.BenchmarkTrials < 1 {
		return fmt.Errorf("synthesis.benchmark_trials must be >= 1, got %d", c.Synthesis.BenchmarkTrials)
	}
	if c.Synthesis.TriggerThreshold < 0 {
		return fmt.Errorf("synthesis.trigger_threshold cannot be negative, got %d", c.Synthesis.TriggerThreshold)
	}
	if c.Router.SolverTimeout <= 0 {
		return fmt.Errorf("router.solver_timeout must be positive, got %s", c.Router.SolverTimeout)
	}
	if c.Router.ChainCacheSize < 1 {
		return fmt.Errorf("router.chain_cache_size must be >= 1, got %d", c.Router.ChainCacheSize)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if len(c.Sandbox.Command) == 0 {
		return fmt.Errorf("sandbox.command cannot be empty")
	}
	if c.Budget.Daily < 0 || c.Budget.Monthly < 0 {
		return fmt.Errorf("budgets cannot be negative")
	}
	return nil
}
