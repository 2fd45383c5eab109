package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file and environment variables.
// Files ending in .yaml or .yml are parsed as YAML, anything else as TOML.
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, nil, err
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes, defaults and validates a configuration document. ext selects
// the format the same way Load does.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Data.EpochMode == "" {
		cfg.Data.EpochMode = EpochModeSweep
	}

	if cfg.Training.Device == "" {
		cfg.Training.Device = "cpu"
	}
	if len(cfg.Training.LearningRate) == 0 {
		cfg.Training.LearningRate = []float64{0.1}
	}

	if cfg.Checkpoint.Filename == "" {
		cfg.Checkpoint.Filename = "model"
	}
	// Resuming a session always means restoring its checkpoint
	if cfg.ResumeFromSession != "" && !cfg.Checkpoint.Disabled {
		cfg.Checkpoint.Restore = true
	}

	if cfg.CrossValidation.MinibatchSize == 0 {
		cfg.CrossValidation.MinibatchSize = 1
	}

	if cfg.Progress.UpdateFrequency == 0 {
		cfg.Progress.UpdateFrequency = 1
	}
	if cfg.Progress.UpdatesPerSecond == 0 {
		cfg.Progress.UpdatesPerSecond = 2
	}

	if cfg.HuggingFace.Endpoint == "" {
		cfg.HuggingFace.Endpoint = "https://huggingface.co"
	}
	if cfg.HuggingFace.Branch == "" {
		cfg.HuggingFace.Branch = "main"
	}
}
