// Package config loads AskDB configuration from an askdb.yaml file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all AskDB configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Reasoning service configuration
	LLM LLMConfig `yaml:"llm"`

	// Engine limits
	Limits LimitsConfig `yaml:"limits"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures local storage.
type ServerConfig struct {
	// DataDir is the root directory for tenant databases, the catalog,
	// history, and logs.
	DataDir string `yaml:"data_dir"`
}

// LLMConfig configures the reasoning service client.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// LimitsConfig bounds per-turn resource usage.
type LimitsConfig struct {
	// ContextWindowTurns is how many recent turns feed disambiguation.
	ContextWindowTurns int `yaml:"context_window_turns"`
	// MaxBatchStatements caps statements per import/batch.
	MaxBatchStatements int `yaml:"max_batch_statements"`
	// MaxResultRows caps rows returned for a single query.
	MaxResultRows int `yaml:"max_result_rows"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Server: ServerConfig{
			DataDir: filepath.Join(home, ".askdb"),
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "30s",
			MaxTokens:   1000,
			Temperature: 0.1,
		},
		Limits: LimitsConfig{
			ContextWindowTurns: 10,
			MaxBatchStatements: 500,
			MaxResultRows:      1000,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the given path, falling back to defaults
// for anything unset. A missing file is not an error; environment
// overrides still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides pulls secrets from the environment. ASKDB_API_KEY wins
// over OPENAI_API_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASKDB_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ASKDB_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ASKDB_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ASKDB_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir must not be empty")
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	if c.Limits.ContextWindowTurns <= 0 {
		c.Limits.ContextWindowTurns = 10
	}
	if c.Limits.MaxBatchStatements <= 0 {
		c.Limits.MaxBatchStatements = 500
	}
	if c.Limits.MaxResultRows <= 0 {
		c.Limits.MaxResultRows = 1000
	}
	return nil
}

// LLMTimeout parses the reasoning call hard timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.LLM.Timeout)
}
