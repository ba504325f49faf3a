// Package config loads and validates the moeview configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/moeview/moeview/internal/api"
	"github.com/moeview/moeview/internal/bytesize"
	"github.com/moeview/moeview/pkg/session"
)

// Config represents the moeview configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MOEVIEW_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Source configures the remote image board
	Source SourceConfig `mapstructure:"source" yaml:"source"`

	// Cache configures the tiered content cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Download configures the transfer coordinator
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// Preload configures the prefetch scheduler
	Preload PreloadConfig `mapstructure:"preload" yaml:"preload"`

	// API configures the stats and metrics HTTP server
	API api.Config `mapstructure:"api" yaml:"api"`

	// Session configures browsing state persistence
	Session session.Config `mapstructure:"session" yaml:"session"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// SourceConfig configures the remote Moebooru-compatible board.
type SourceConfig struct {
	// BaseURL is the board's root URL.
	// Default: https://yande.re
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// UserAgent is sent with every request.
	// Default: moeview/1.0
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// Timeout is the per-request HTTP timeout.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig configures the tiered content cache.
type CacheConfig struct {
	// MemoryBudget caps the memory tier.
	// Supports human-readable formats: "256MB", "1Gi"
	// Default: 256MB
	MemoryBudget bytesize.ByteSize `mapstructure:"memory_budget" yaml:"memory_budget"`

	// DiskBudget caps the disk tier. Zero disables the disk tier.
	// Default: 2GB
	DiskBudget bytesize.ByteSize `mapstructure:"disk_budget" yaml:"disk_budget"`

	// DiskPath is the directory for the disk tier.
	// Default: $XDG_CACHE_HOME/moeview
	DiskPath string `mapstructure:"disk_path" yaml:"disk_path"`

	// FreeSpaceFloor refuses disk writes that would leave less than this
	// much free space on the filesystem.
	// Default: 512MB
	FreeSpaceFloor bytesize.ByteSize `mapstructure:"free_space_floor" yaml:"free_space_floor"`

	// Compression stores disk objects zstd-compressed.
	// Default: true
	// Use a pointer to distinguish "not set" from "explicitly false"
	Compression *bool `mapstructure:"compression" yaml:"compression"`
}

// CompressionEnabled returns the compression setting, defaulting to true.
func (c *CacheConfig) CompressionEnabled() bool {
	if c.Compression == nil {
		return true
	}
	return *c.Compression
}

// DownloadConfig configures the transfer coordinator.
type DownloadConfig struct {
	// Workers is the number of concurrent transfer workers.
	// Default: 4
	Workers int `mapstructure:"workers" yaml:"workers"`

	// QueueSize bounds each priority queue.
	// Default: 256
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// MaxRetries bounds retry attempts for transient failures.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`

	// BackoffMultiplier scales the delay for each further retry.
	// Default: 2.0
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`

	// MaxBackoff caps the retry delay.
	// Default: 60s
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`

	// TransferTimeout bounds a single transfer attempt.
	// Default: 2m
	TransferTimeout time.Duration `mapstructure:"transfer_timeout" yaml:"transfer_timeout"`
}

// PreloadConfig configures the prefetch scheduler.
type PreloadConfig struct {
	// ForwardWindow is the initial forward window length.
	// Default: 6
	ForwardWindow int `mapstructure:"forward_window" yaml:"forward_window"`

	// BackwardWindow is the backward window length.
	// Default: 2
	BackwardWindow int `mapstructure:"backward_window" yaml:"backward_window"`

	// MinWindow and MaxWindow bound the adaptive forward window.
	// Defaults: 2 and 16.
	MinWindow int `mapstructure:"min_window" yaml:"min_window"`
	MaxWindow int `mapstructure:"max_window" yaml:"max_window"`

	// RefetchBackward also prefetches already-seen backward items.
	// Default: true
	// Use a pointer to distinguish "not set" from "explicitly false"
	RefetchBackward *bool `mapstructure:"refetch_backward" yaml:"refetch_backward"`
}

// RefetchBackwardEnabled returns the policy, defaulting to true.
func (c *PreloadConfig) RefetchBackwardEnabled() bool {
	if c.RefetchBackward == nil {
		return true
	}
	return *c.RefetchBackward
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MOEVIEW_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages. It checks if
// the config file exists and points the user at 'moeview init' if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  moeview init\n\n"+
				"Or specify a custom config file:\n"+
				"  moeview <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  moeview init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: MOEVIEW_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MOEVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/moeview/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can use human-readable sizes like "1Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files
// can use durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path. Uses
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "moeview")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "moeview")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
