package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that cannot
// be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// A badger registry without a path has nowhere to persist.
	if cfg.Registry.Type == "badger" {
		path, _ := cfg.Registry.Badger["path"].(string)
		inMemory, _ := cfg.Registry.Badger["in_memory"].(bool)
		if path == "" && !inMemory {
			return fmt.Errorf("registry.badger: path is required")
		}
	}

	if cfg.Storage.Type == "filesystem" {
		if path, _ := cfg.Storage.Filesystem["path"].(string); path == "" {
			return fmt.Errorf("storage.filesystem: path is required")
		}
	}

	if cfg.Storage.Type == "s3" {
		if bucket, _ := cfg.Storage.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("storage.s3: bucket is required")
		}
	}

	// A burst-less limiter would shed every command.
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		return fmt.Errorf("server.rate_limit: burst must be set when requests_per_second is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
