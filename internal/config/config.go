// Package config holds the service configuration for the grading daemon.
// Configuration is YAML on disk with environment overrides for secrets and
// deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autograder configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Directory for logs and the default database location.
	DataDir string `yaml:"data_dir"`

	// HTTP API
	Server ServerConfig `yaml:"server"`

	// Persistence
	Database DatabaseConfig `yaml:"database"`

	// Sandbox pools
	Sandbox SandboxConfig `yaml:"sandbox"`

	// AI feedback / essay grading
	LLM LLMConfig `yaml:"llm"`

	// Grading behaviour
	Grading GradingConfig `yaml:"grading"`

	// Categorized debug logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// DatabaseConfig configures the SQLite repository.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LanguagePool configures one per-language sandbox pool.
type LanguagePool struct {
	Image         string `yaml:"image"`
	PoolSize      int    `yaml:"pool_size"`
	WorkingDir    string `yaml:"working_dir"`
	ContainerPort int    `yaml:"container_port"`
}

// SandboxConfig configures the sandbox pool manager.
type SandboxConfig struct {
	// Per-language pools keyed by language tag.
	Languages map[string]LanguagePool `yaml:"languages"`

	// Global cap on concurrent environments across all pools.
	MaxTotal int `yaml:"max_total"`

	// Identity student processes run as inside the container.
	User string `yaml:"user"`

	// Docker network for sandbox containers.
	NetworkMode string `yaml:"network_mode"`

	// Timeouts (Go duration strings).
	AcquireTimeout string `yaml:"acquire_timeout"`
	SetupTimeout   string `yaml:"setup_timeout"`
	TestTimeout    string `yaml:"test_timeout"`

	// Remote execution agent endpoint. When set, the manager proxies all
	// environment operations to the agent instead of driving docker locally.
	AgentURL string `yaml:"agent_url"`
}

// LLMConfig configures the AI feedback producer and essay grader.
type LLMConfig struct {
	Provider string `yaml:"provider"` // genai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// GradingConfig configures pipeline behaviour.
type GradingConfig struct {
	// Concurrent pipelines. Zero means derived from pool sizes.
	Workers int `yaml:"workers"`

	// Per-submission wall clock budget (Go duration string).
	SubmissionBudget string `yaml:"submission_budget"`

	// Produce focus + feedback after grading.
	FeedbackEnabled bool `yaml:"feedback_enabled"`

	// Optional webhook that receives completed results.
	ExportURL     string `yaml:"export_url"`
	ExportTimeout string `yaml:"export_timeout"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autograder",
		Version: "1.0.0",
		DataDir: ".graded",
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Database: DatabaseConfig{
			Path: ".graded/autograder.db",
		},
		Sandbox: SandboxConfig{
			Languages: map[string]LanguagePool{
				"python": {Image: "python:3.11-slim", PoolSize: 2, WorkingDir: "/work"},
			},
			MaxTotal:       8,
			User:           "nobody",
			NetworkMode:    "none",
			AcquireTimeout: "30s",
			SetupTimeout:   "30s",
			TestTimeout:    "15s",
		},
		LLM: LLMConfig{
			Provider: "genai",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Grading: GradingConfig{
			Workers:          4,
			SubmissionBudget: "5m",
			FeedbackEnabled:  true,
			ExportTimeout:    "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, applying defaults for missing values
// and environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AUTOGRADER_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("AUTOGRADER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AUTOGRADER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("AUTOGRADER_AGENT_URL"); v != "" {
		c.Sandbox.AgentURL = v
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	for lang, pool := range c.Sandbox.Languages {
		if pool.Image == "" && c.Sandbox.AgentURL == "" {
			return fmt.Errorf("sandbox language %q has no image and no agent is configured", lang)
		}
		if pool.PoolSize < 0 {
			return fmt.Errorf("sandbox language %q has negative pool size", lang)
		}
	}
	if c.Sandbox.MaxTotal < 0 {
		return fmt.Errorf("sandbox max_total must not be negative")
	}
	if _, err := c.Duration(c.Grading.SubmissionBudget, 0); err != nil {
		return fmt.Errorf("grading submission_budget: %w", err)
	}
	return nil
}

// Duration parses a duration string, returning def for an empty value.
func (c *Config) Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// DurationOr parses a duration string, falling back to def on empty or
// malformed values. Use only after Validate has vetted the field.
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Workers returns the effective pipeline worker count: the configured value,
// or the sum of pool sizes when unset.
func (c *Config) Workers() int {
	if c.Grading.Workers > 0 {
		return c.Grading.Workers
	}
	total := 0
	for _, pool := range c.Sandbox.Languages {
		total += pool.PoolSize
	}
	if total == 0 {
		total = 2
	}
	return total
}
