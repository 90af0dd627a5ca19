package config

import (
	"strings"
	"time"

	"github.com/marmos91/stashd/pkg/registry"
)

// Pool and queue sizing defaults. Workers outnumber client handlers so a
// burst of commands from the full set of sessions drains promptly.
const (
	DefaultPort                = 8080
	DefaultClientThreads       = 4
	DefaultWorkerThreads       = 6
	DefaultClientQueueCapacity = 20
	DefaultTaskQueueCapacity   = 40
	DefaultShutdownTimeout     = 10 * time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backend constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyRegistryDefaults(&cfg.Registry)
	applyStorageDefaults(&cfg.Storage)
	applyQuotaDefaults(&cfg.Quota)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets listener, pool and queue defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ClientThreads == 0 {
		cfg.ClientThreads = DefaultClientThreads
	}
	if cfg.WorkerThreads == 0 {
		cfg.WorkerThreads = DefaultWorkerThreads
	}
	if cfg.ClientQueueCapacity == 0 {
		cfg.ClientQueueCapacity = DefaultClientQueueCapacity
	}
	if cfg.TaskQueueCapacity == 0 {
		cfg.TaskQueueCapacity = DefaultTaskQueueCapacity
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	// MaxUploadBytes defaults to 0 (the server's built-in ceiling applies)
	// RateLimit defaults to 0 (disabled)
}

// applyRegistryDefaults sets registry backend defaults.
func applyRegistryDefaults(cfg *RegistryConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "stashd_users"
	}
}

// applyStorageDefaults sets storage backend defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "server_storage"
	}
}

// applyQuotaDefaults sets quota defaults.
func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.LimitBytes == 0 {
		cfg.LimitBytes = registry.DefaultQuotaLimit
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)

	return cfg
}
