package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all speriment configuration.
type Config struct {
	// Study being run
	Study StudyConfig `yaml:"study"`

	// Participant assignment
	Assignment AssignmentConfig `yaml:"assignment"`

	// Trial storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Session defaults
	Session SessionConfig `yaml:"session"`
}

// StudyConfig names the study and its definition file.
type StudyConfig struct {
	Name       string `yaml:"name"`
	Definition string `yaml:"definition"` // .json, .yaml or .yml
}

// AssignmentConfig controls how participants get a version and permutation.
type AssignmentConfig struct {
	// Conditions is the number of Latin-square versions; 0 derives it from
	// the definition.
	Conditions int `yaml:"conditions"`
	// Strategy is "balanced" (least-used pair from the store) or "random".
	Strategy string `yaml:"strategy"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SessionConfig holds per-session defaults.
type SessionConfig struct {
	// Seed fixes the random stream; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// Valid assignment strategies.
var ValidStrategies = []string{"balanced", "random"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Study: StudyConfig{
			Name:       "study",
			Definition: "experiment.json",
		},
		Assignment: AssignmentConfig{
			Strategy: "balanced",
		},
		Storage: StorageConfig{
			DatabasePath: "data/speriment.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  ".speriment/logs",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
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

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("SPERIMENT_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("SPERIMENT_DEFINITION"); path != "" {
		c.Study.Definition = path
	}
	if level := os.Getenv("SPERIMENT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if debug := os.Getenv("SPERIMENT_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Study.Name == "" {
		return fmt.Errorf("study name not configured")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path not configured (set storage.database_path or SPERIMENT_DB)")
	}
	if c.Assignment.Conditions < 0 {
		return fmt.Errorf("assignment conditions must not be negative: %d", c.Assignment.Conditions)
	}

	validStrategy := false
	for _, s := range ValidStrategies {
		if c.Assignment.Strategy == s {
			validStrategy = true
			break
		}
	}
	if !validStrategy {
		return fmt.Errorf("invalid assignment strategy: %s (valid: %v)", c.Assignment.Strategy, ValidStrategies)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
