package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SPERIMENT_DB", "SPERIMENT_DEFINITION", "SPERIMENT_LOG_LEVEL", "SPERIMENT_DEBUG"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "balanced", cfg.Assignment.Strategy)
	assert.Equal(t, "data/speriment.db", cfg.Storage.DatabasePath)
	assert.False(t, cfg.Logging.DebugMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "speriment.yaml")

	cfg := DefaultConfig()
	cfg.Study.Name = "priming"
	cfg.Study.Definition = "priming.yaml"
	cfg.Assignment.Conditions = 4
	cfg.Session.Seed = 42
	cfg.Logging.Categories = map[string]bool{"store": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "speriment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("study:\n  name: pilot\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pilot", cfg.Study.Name)
	assert.Equal(t, "balanced", cfg.Assignment.Strategy)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SPERIMENT_DB", "/tmp/x.db")
	t.Setenv("SPERIMENT_DEFINITION", "other.json")
	t.Setenv("SPERIMENT_LOG_LEVEL", "debug")
	t.Setenv("SPERIMENT_DEBUG", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "other.json", cfg.Study.Definition)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]func(*Config){
		"no name":        func(c *Config) { c.Study.Name = "" },
		"no db":          func(c *Config) { c.Storage.DatabasePath = "" },
		"bad strategy":   func(c *Config) { c.Assignment.Strategy = "alphabetical" },
		"negative conds": func(c *Config) { c.Assignment.Conditions = -1 },
		"bad level":      func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggingConfig_Categories(t *testing.T) {
	c := LoggingConfig{}
	assert.False(t, c.IsCategoryEnabled("store"))

	c.DebugMode = true
	assert.True(t, c.IsCategoryEnabled("store"))

	c.Categories = map[string]bool{"store": false}
	assert.False(t, c.IsCategoryEnabled("store"))
	assert.True(t, c.IsCategoryEnabled("tui"))
}

func TestLoggingConfig_Options(t *testing.T) {
	c := DefaultConfig().Logging
	opts := c.Options("/work")
	assert.Equal(t, filepath.Join("/work", ".speriment/logs"), opts.Directory)
	assert.Equal(t, 10, opts.MaxSize)

	c.Directory = "/var/log/speriment"
	assert.Equal(t, "/var/log/speriment", c.Options("/work").Directory)
}
