package config

import (
	"path/filepath"

	"speriment/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`       // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`  // Master toggle - false = no log files
	Directory  string          `yaml:"directory"`   // Per-category log files
	Categories map[string]bool `yaml:"categories"`  // Per-category toggles
	MaxSize    int             `yaml:"max_size"`    // Megabytes before rotation
	MaxBackups int             `yaml:"max_backups"` // Rotated files kept
	MaxAge     int             `yaml:"max_age"`     // Days rotated files are kept
	Compress   bool            `yaml:"compress"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false.
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Options converts the section into logging options, resolving the log
// directory against root when it is relative.
func (c *LoggingConfig) Options(root string) logging.Options {
	dir := c.Directory
	if dir != "" && root != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return logging.Options{
		Directory:  dir,
		Level:      c.Level,
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}
