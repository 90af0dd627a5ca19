// Package config loads, defaults, validates and materializes the server
// configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STASHD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each registry and storage backend defines its own option set. The Config
// struct carries one map per backend type (e.g. storage.filesystem,
// storage.s3) and only the section matching the selected type is decoded,
// by the factories in factories.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete server configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the listener and pool settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Registry specifies the user registry backend and its options
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// Storage specifies the file storage backend and its options
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Quota contains per-user quota settings
	Quota QuotaConfig `mapstructure:"quota" yaml:"quota"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls Prometheus metrics collection and exposure.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the listener address and the sizing of the two
// pools and the two queues between them.
type ServerConfig struct {
	// Port is the TCP listen port. The CLI's positional port argument
	// overrides it.
	Port int `mapstructure:"port" yaml:"port" validate:"required,gte=1,lte=65535"`

	// Host is the listen interface. Empty means all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// ClientThreads is the number of concurrently served sessions
	ClientThreads int `mapstructure:"client_threads" yaml:"client_threads" validate:"required,gte=1"`

	// WorkerThreads is the number of concurrently executed file operations
	WorkerThreads int `mapstructure:"worker_threads" yaml:"worker_threads" validate:"required,gte=1"`

	// ClientQueueCapacity bounds accepted connections waiting for a handler
	ClientQueueCapacity int `mapstructure:"client_queue_capacity" yaml:"client_queue_capacity" validate:"required,gte=1"`

	// TaskQueueCapacity bounds submitted operations waiting for a worker
	TaskQueueCapacity int `mapstructure:"task_queue_capacity" yaml:"task_queue_capacity" validate:"required,gte=1"`

	// MaxUploadBytes caps a single upload. Zero falls back to the
	// server's built-in ceiling.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gte=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// RateLimit controls command-rate shedding
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls command-rate shedding across all sessions.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained command rate. Zero disables
	// rate limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of commands that may exceed the sustained rate
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// RegistryConfig specifies the user registry backend.
//
// The Type field determines which implementation is used. Only the
// corresponding type-specific configuration section is used.
type RegistryConfig struct {
	// Type specifies which registry implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// StorageConfig specifies the file storage backend.
//
// The Type field determines which implementation is used. Only the
// corresponding type-specific configuration section is used.
type StorageConfig struct {
	// Type specifies which storage implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// QuotaConfig contains per-user quota settings.
type QuotaConfig struct {
	// LimitBytes is the byte budget applied to each new account.
	// Zero means the built-in default.
	LimitBytes int64 `mapstructure:"limit_bytes" yaml:"limit_bytes" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STASHD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the STASHD_ prefix and underscores.
	// Example: STASHD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("STASHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/stashd/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable: defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stashd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "stashd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
