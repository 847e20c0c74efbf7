package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends for workflow documents.
const (
	StorageSQLite     = "sqlite"
	StorageFilesystem = "filesystem"
)

// Config is the contents of config.yaml.
type Config struct {
	Storage        string        `yaml:"storage"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	NodeTimeout    time.Duration `yaml:"node_timeout"`
	Retry          RetryConfig   `yaml:"retry"`
	HistorySize    int           `yaml:"history_size"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	OpenAI         OpenAIConfig  `yaml:"openai"`
}

// RetryConfig configures executor retries. MaxAttempts of 1 disables them.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// OpenAIConfig configures the openai node type.
type OpenAIConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Storage:        StorageSQLite,
		MaxConcurrency: 1,
		NodeTimeout:    2 * time.Minute,
		Retry: RetryConfig{
			MaxAttempts:  1,
			InitialDelay: 500 * time.Millisecond,
		},
		HistorySize: 50,
		LogLevel:    "warn",
		LogFormat:   "text",
		OpenAI:      OpenAIConfig{Model: "gpt-4o-mini"},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageSQLite, StorageFilesystem:
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StorageSQLite, StorageFilesystem, c.Storage))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("max_concurrency must be at least 1"))
	}
	if c.NodeTimeout < 0 {
		errs = append(errs, fmt.Errorf("node_timeout cannot be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay cannot be negative"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("history_size cannot be negative"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// LoadConfig reads config.yaml from dir, writing the defaults first if the
// file does not exist. Missing keys keep their default values.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}
