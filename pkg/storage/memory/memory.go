// Package memory implements an in-memory storage.FileStore. Content is
// lost on restart; intended for tests and ephemeral deployments.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/stashd/pkg/storage"
)

// MemoryFileStore keeps all blobs in a two-level map keyed by username
// then filename.
type MemoryFileStore struct {
	mu    sync.RWMutex
	users map[string]map[string][]byte
}

// New creates an empty store.
func New() *MemoryFileStore {
	return &MemoryFileStore{
		users: make(map[string]map[string][]byte),
	}
}

func (s *MemoryFileStore) Save(ctx context.Context, username, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	// Copy so the caller's buffer can be reused independently.
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.users[username]
	if !ok {
		files = make(map[string][]byte)
		s.users[username] = files
	}
	files[filename] = stored

	return nil
}

func (s *MemoryFileStore) Load(ctx context.Context, username, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(username); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(filename); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.users[username][filename]
	if !ok {
		return nil, storage.ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

func (s *MemoryFileStore) Delete(ctx context.Context, username, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(username); err != nil {
		return err
	}
	if err := storage.ValidateName(filename); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.users[username]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := files[filename]; !ok {
		return storage.ErrNotFound
	}

	delete(files, filename)

	return nil
}
