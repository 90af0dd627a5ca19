// Package memory implements an in-memory user registry.
//
// This is the default registry: all accounts and ownership records live in
// process memory and are lost on restart. Suitable for tests, development
// and ephemeral deployments; use the badger registry when signups must
// survive restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/stashd/pkg/registry"
)

// user is the mutable account state. The embedded mutex guards the file
// set and quota counters only; the registry table lock is never held while
// a user lock is held.
type user struct {
	mu         sync.Mutex
	password   string
	quotaUsed  int64
	quotaLimit int64
	files      map[string]int64 // filename -> size
}

// MemoryRegistry implements registry.UserRegistry with a map guarded by a
// read-write mutex. Two different users can be mutated fully concurrently.
type MemoryRegistry struct {
	mu         sync.RWMutex
	users      map[string]*user
	quotaLimit int64
}

// New creates an empty registry whose new accounts get quotaLimit bytes.
// A non-positive limit falls back to registry.DefaultQuotaLimit.
func New(quotaLimit int64) *MemoryRegistry {
	if quotaLimit <= 0 {
		quotaLimit = registry.DefaultQuotaLimit
	}

	return &MemoryRegistry{
		users:      make(map[string]*user),
		quotaLimit: quotaLimit,
	}
}

// get returns the live user entry, holding the table lock only for the
// map access.
func (r *MemoryRegistry) get(username string) (*user, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	return u, ok
}

func (r *MemoryRegistry) Lookup(_ context.Context, username string) (*registry.UserInfo, error) {
	u, ok := r.get(username)
	if !ok {
		return nil, registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	info := &registry.UserInfo{
		Username:   username,
		QuotaUsed:  u.quotaUsed,
		QuotaLimit: u.quotaLimit,
		Files:      make([]registry.FileInfo, 0, len(u.files)),
	}
	for name, size := range u.files {
		info.Files = append(info.Files, registry.FileInfo{Name: name, Size: size})
	}
	sort.Slice(info.Files, func(i, j int) bool { return info.Files[i].Name < info.Files[j].Name })

	return info, nil
}

func (r *MemoryRegistry) Authenticate(_ context.Context, username, password string) error {
	u, ok := r.get(username)
	if !ok {
		return registry.ErrAuthFailed
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.password != password {
		return registry.ErrAuthFailed
	}

	return nil
}

func (r *MemoryRegistry) CreateUser(_ context.Context, username, password string) error {
	if username == "" || password == "" {
		return registry.ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[username]; exists {
		return registry.ErrUserExists
	}

	r.users[username] = &user{
		password:   password,
		quotaLimit: r.quotaLimit,
		files:      make(map[string]int64),
	}

	return nil
}

func (r *MemoryRegistry) CheckQuota(_ context.Context, username string, additional int64) error {
	u, ok := r.get(username)
	if !ok {
		return registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.quotaUsed+additional > u.quotaLimit {
		return registry.ErrQuotaExceeded
	}

	return nil
}

func (r *MemoryRegistry) HasFile(_ context.Context, username, filename string) (bool, error) {
	u, ok := r.get(username)
	if !ok {
		return false, registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	_, owned := u.files[filename]
	return owned, nil
}

func (r *MemoryRegistry) RecordFile(_ context.Context, username, filename string, size int64) error {
	if filename == "" || size < 0 {
		return registry.ErrInvalidArgument
	}

	u, ok := r.get(username)
	if !ok {
		return registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.files[filename]; exists {
		return registry.ErrFileExists
	}
	if u.quotaUsed+size > u.quotaLimit {
		return registry.ErrQuotaExceeded
	}

	u.files[filename] = size
	u.quotaUsed += size

	return nil
}

func (r *MemoryRegistry) ForgetFile(_ context.Context, username, filename string) (int64, error) {
	u, ok := r.get(username)
	if !ok {
		return 0, registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	size, exists := u.files[filename]
	if !exists {
		return 0, registry.ErrFileNotFound
	}

	delete(u.files, filename)
	u.quotaUsed -= size
	if u.quotaUsed < 0 {
		u.quotaUsed = 0
	}

	return size, nil
}

func (r *MemoryRegistry) ListFiles(_ context.Context, username string) ([]string, error) {
	u, ok := r.get(username)
	if !ok {
		return nil, registry.ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	names := make([]string, 0, len(u.files))
	for name := range u.files {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}
