package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/pkg/registry"
	registryBadger "github.com/marmos91/stashd/pkg/registry/badger"
	registryMemory "github.com/marmos91/stashd/pkg/registry/memory"
	"github.com/marmos91/stashd/pkg/storage"
	storageFs "github.com/marmos91/stashd/pkg/storage/fs"
	storageMemory "github.com/marmos91/stashd/pkg/storage/memory"
	storageS3 "github.com/marmos91/stashd/pkg/storage/s3"
)

// CreateUserRegistry creates a user registry based on configuration.
//
// This factory uses the Type field to determine which implementation to
// create, then decodes the type-specific configuration from the
// corresponding map and passes it to the backend's constructor. The quota
// limit applies to every backend.
//
// Supported types:
//   - "memory": ephemeral registry, accounts lost on restart
//   - "badger": persistent registry backed by BadgerDB
func CreateUserRegistry(ctx context.Context, cfg *RegistryConfig, quota *QuotaConfig) (registry.UserRegistry, error) {
	switch cfg.Type {
	case "memory":
		return registryMemory.New(quota.LimitBytes), nil
	case "badger":
		return createBadgerRegistry(ctx, cfg.Badger, quota.LimitBytes)
	default:
		return nil, fmt.Errorf("unknown registry type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerRegistry creates a BadgerDB-backed persistent registry.
func createBadgerRegistry(ctx context.Context, options map[string]any, quotaLimit int64) (registry.UserRegistry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type BadgerRegistryOptions struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var opts BadgerRegistryOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger registry options: %w", err)
	}

	reg, err := registryBadger.New(registryBadger.Options{
		Path:       opts.Path,
		InMemory:   opts.InMemory,
		QuotaLimit: quotaLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger registry: %w", err)
	}

	logger.Info("Badger registry initialized: path=%s", opts.Path)

	return reg, nil
}

// CreateFileStore creates a file store based on configuration.
//
// Supported types:
//   - "filesystem": local filesystem storage under a base directory
//   - "memory": ephemeral in-memory storage
//   - "s3": Amazon S3 or any S3-compatible object store
func CreateFileStore(ctx context.Context, cfg *StorageConfig) (storage.FileStore, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemStore(ctx, cfg.Filesystem)
	case "memory":
		return storageMemory.New(), nil
	case "s3":
		return createS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: filesystem, memory, s3)", cfg.Type)
	}
}

// createFilesystemStore creates a filesystem-backed file store.
func createFilesystemStore(ctx context.Context, options map[string]any) (storage.FileStore, error) {
	type FilesystemStoreOptions struct {
		Path string `mapstructure:"path"`
	}

	var opts FilesystemStoreOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem storage options: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem storage: path is required")
	}

	store, err := storageFs.New(ctx, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	return store, nil
}

// createS3Store creates an S3-backed file store.
func createS3Store(ctx context.Context, options map[string]any) (storage.FileStore, error) {
	type S3StoreOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var opts S3StoreOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 storage options: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 storage: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 storage: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))

	// Custom endpoint for MinIO, Localstack and friends.
	if opts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awsS3.NewFromConfig(awsCfg, func(o *awsS3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if opts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := storageS3.New(ctx, storageS3.Config{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage: %w", err)
	}

	logger.Info("S3 storage initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return store, nil
}
