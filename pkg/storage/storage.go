// Package storage defines the file-content store consumed by the worker
// pool. Content is keyed by (username, filename); the registry, not the
// store, is the source of truth for ownership and quota.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates no content exists for the given key.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName indicates a username or filename that is empty or
	// would escape the store's namespace.
	ErrInvalidName = errors.New("invalid name")
)

// FileStore stores whole-file blobs. Each upload is one blob already in
// memory; there is no partial or chunked access.
//
// All implementations must be safe for concurrent use. Concurrent writes
// to the same (username, filename) are last-write-wins; the per-user
// serialization in the registry prevents the server from issuing them.
type FileStore interface {
	// Save persists data under (username, filename), replacing any
	// previous content.
	Save(ctx context.Context, username, filename string, data []byte) error

	// Load returns the content stored under (username, filename), or
	// ErrNotFound.
	Load(ctx context.Context, username, filename string) ([]byte, error)

	// Delete removes the content stored under (username, filename), or
	// returns ErrNotFound.
	Delete(ctx context.Context, username, filename string) error
}

// ValidateName rejects names that are empty or could traverse outside a
// per-user namespace. Applies to both usernames and filenames.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}

	return nil
}
