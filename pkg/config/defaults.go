package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moeview/moeview/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced, explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySourceDefaults(&cfg.Source)
	applyCacheDefaults(&cfg.Cache)
	applyDownloadDefaults(&cfg.Download)
	applyPreloadDefaults(&cfg.Preload)
	cfg.Session.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applySourceDefaults(cfg *SourceConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://yande.re"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "moeview/1.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = 256 * bytesize.MB
	}
	if cfg.DiskBudget == 0 {
		cfg.DiskBudget = 2 * bytesize.GB
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = getCacheDir()
	}
	if cfg.FreeSpaceFloor == 0 {
		cfg.FreeSpaceFloor = 512 * bytesize.MB
	}
}

func applyDownloadDefaults(cfg *DownloadConfig) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 2 * time.Minute
	}
}

func applyPreloadDefaults(cfg *PreloadConfig) {
	if cfg.ForwardWindow <= 0 {
		cfg.ForwardWindow = 6
	}
	if cfg.BackwardWindow < 0 {
		cfg.BackwardWindow = 2
	}
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = 2
	}
	if cfg.MaxWindow < cfg.MinWindow {
		cfg.MaxWindow = 16
	}
}

// getCacheDir returns the disk tier directory. Uses XDG_CACHE_HOME if
// set, otherwise ~/.cache.
func getCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "moeview")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "moeview-cache")
	}

	return filepath.Join(home, ".cache", "moeview")
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Validate checks the configuration for inconsistent values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Source.BaseURL, "http://") &&
		!strings.HasPrefix(cfg.Source.BaseURL, "https://") {
		return fmt.Errorf("source base_url must be an http(s) URL: %s", cfg.Source.BaseURL)
	}

	if cfg.Cache.MemoryBudget == 0 {
		return fmt.Errorf("cache memory_budget must be positive")
	}
	if cfg.Cache.DiskBudget > 0 && cfg.Cache.DiskPath == "" {
		return fmt.Errorf("cache disk_path is required when disk_budget is set")
	}

	if cfg.Download.BackoffMultiplier < 1 {
		return fmt.Errorf("download backoff_multiplier must be >= 1")
	}
	if cfg.Download.MaxBackoff < cfg.Download.InitialBackoff {
		return fmt.Errorf("download max_backoff must be >= initial_backoff")
	}

	if cfg.Preload.MinWindow > cfg.Preload.MaxWindow {
		return fmt.Errorf("preload min_window must be <= max_window")
	}
	if cfg.Preload.ForwardWindow > cfg.Preload.MaxWindow {
		return fmt.Errorf("preload forward_window must be <= max_window")
	}

	if cfg.API.IsEnabled() && (cfg.API.Port < 1 || cfg.API.Port > 65535) {
		if cfg.API.Port != 0 {
			return fmt.Errorf("api port must be between 1 and 65535")
		}
	}

	return nil
}
