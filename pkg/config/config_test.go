package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeview/moeview/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "https://yande.re", cfg.Source.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 256*bytesize.MB, cfg.Cache.MemoryBudget)
	assert.Equal(t, 2*bytesize.GB, cfg.Cache.DiskBudget)
	assert.True(t, cfg.Cache.CompressionEnabled())
	assert.Equal(t, 4, cfg.Download.Workers)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.Equal(t, 6, cfg.Preload.ForwardWindow)
	assert.Equal(t, 16, cfg.Preload.MaxWindow)
	assert.True(t, cfg.Preload.RefetchBackwardEnabled())
	assert.False(t, cfg.API.IsEnabled())
	assert.NoError(t, Validate(cfg))
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
source:
  base_url: https://konachan.com
  timeout: 10s
cache:
  memory_budget: 512Mi
  disk_budget: 8GB
  disk_path: /tmp/moeview-test
  compression: false
download:
  workers: 8
  initial_backoff: 250ms
preload:
  forward_window: 10
  refetch_backward: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level) // normalized
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "https://konachan.com", cfg.Source.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 512*bytesize.MiB, cfg.Cache.MemoryBudget)
	assert.Equal(t, 8*bytesize.GB, cfg.Cache.DiskBudget)
	assert.False(t, cfg.Cache.CompressionEnabled())
	assert.Equal(t, 8, cfg.Download.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.InitialBackoff)
	assert.Equal(t, 10, cfg.Preload.ForwardWindow)
	assert.False(t, cfg.Preload.RefetchBackwardEnabled())

	// Unspecified values still get defaults.
	assert.Equal(t, 256, cfg.Download.QueueSize)
	assert.Equal(t, 2, cfg.Preload.BackwardWindow)
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)
	t.Setenv("MOEVIEW_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad url", func(c *Config) { c.Source.BaseURL = "yande.re" }},
		{"zero memory", func(c *Config) { c.Cache.MemoryBudget = 0 }},
		{"disk without path", func(c *Config) {
			c.Cache.DiskBudget = bytesize.GB
			c.Cache.DiskPath = ""
		}},
		{"backoff multiplier", func(c *Config) { c.Download.BackoffMultiplier = 0.5 }},
		{"window bounds", func(c *Config) {
			c.Preload.MinWindow = 10
			c.Preload.MaxWindow = 4
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Source.BaseURL = "https://konachan.com"
	cfg.Download.Workers = 2

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://konachan.com", loaded.Source.BaseURL)
	assert.Equal(t, 2, loaded.Download.Workers)
}
