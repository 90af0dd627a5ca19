// Package s3 implements storage.FileStore on Amazon S3 or any
// S3-compatible object store (MinIO, LocalStack, DS3).
//
// Key design: objects are stored as "<prefix><username>/<filename>", so
// the bucket remains human-readable and a user's files can be inspected
// with a plain prefix listing. The bucket must already exist.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/stashd/pkg/storage"
)

// Config configures the S3 file store.
type Config struct {
	// Client is the configured S3 client.
	Client *awsS3.Client

	// Bucket is the bucket holding all user content.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys, for sharing a
	// bucket with other applications (e.g. "stashd/").
	KeyPrefix string
}

// S3FileStore implements storage.FileStore backed by an S3 bucket.
type S3FileStore struct {
	client    *awsS3.Client
	bucket    string
	keyPrefix string
}

// New creates the store and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config) (*S3FileStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 file store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 file store: bucket is required")
	}

	store := &S3FileStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}

	_, err := store.client.HeadBucket(ctx, &awsS3.HeadBucketInput{
		Bucket: aws.String(store.bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", store.bucket, err)
	}

	return store, nil
}

func (s *S3FileStore) key(username, filename string) string {
	return s.keyPrefix + username + "/" + filename
}

func (s *S3FileStore) Save(ctx context.Context, username, filename string, data []byte) error {
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &awsS3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(username, filename)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	return nil
}

func (s *S3FileStore) Load(ctx context.Context, username, filename string) ([]byte, error) {
	if err := storage.ValidateName(username); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(filename); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &awsS3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(username, filename)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

func (s *S3FileStore) Delete(ctx context.Context, username, filename string) error {
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	key := s.key(username, filename)

	// DeleteObject succeeds on missing keys, so probe first to preserve
	// the store's ErrNotFound contract.
	_, err := s.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to probe object: %w", err)
	}

	_, err = s.client.DeleteObject(ctx, &awsS3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}
