// Package fs implements storage.FileStore on the local filesystem.
//
// Layout mirrors the classic per-user directory scheme:
//
//	<base>/<username>/<filename>
//
// Writes go through a temp file in the same directory followed by a
// rename, so a crash mid-write never leaves a torn file behind.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/stashd/pkg/storage"
)

// FSFileStore stores file content under a base directory.
type FSFileStore struct {
	basePath string
}

// New creates the store, creating the base directory if needed.
func New(ctx context.Context, basePath string) (*FSFileStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FSFileStore{basePath: basePath}, nil
}

// path builds the on-disk location for a key. Both components have been
// validated against traversal before this point.
func (s *FSFileStore) path(username, filename string) string {
	return filepath.Join(s.basePath, username, filename)
}

func (s *FSFileStore) Save(ctx context.Context, username, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	userDir := filepath.Join(s.basePath, username)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	tmp, err := os.CreateTemp(userDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}

	if err := os.Rename(tmpName, s.path(username, filename)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize file: %w", err)
	}

	return nil
}

func (s *FSFileStore) Load(ctx context.Context, username, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(username); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(filename); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(username, filename))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

func (s *FSFileStore) Delete(ctx context.Context, username, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	err := os.Remove(s.path(username, filename))
	if os.IsNotExist(err) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
