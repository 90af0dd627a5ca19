// Package badger implements a persistent user registry backed by BadgerDB.
//
// Accounts, quota counters and file-ownership records survive server
// restarts, unlike the in-memory registry. BadgerDB is embedded, so no
// external service is required.
//
// Concurrency model: BadgerDB transactions give atomic read-modify-write
// per operation, and an in-process lock per username serializes mutations
// to a single user's record, mirroring the per-user lock the in-memory
// registry uses. Distinct users never contend on each other's lock.
package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/stashd/pkg/registry"
)

// Options configures the badger registry.
type Options struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is set.
	Path string

	// InMemory runs BadgerDB without touching disk. Useful for tests.
	InMemory bool

	// QuotaLimit is the byte budget for new accounts. Non-positive values
	// fall back to registry.DefaultQuotaLimit.
	QuotaLimit int64
}

// BadgerRegistry implements registry.UserRegistry on top of BadgerDB.
type BadgerRegistry struct {
	db         *badger.DB
	quotaLimit int64

	// locks serializes mutations per username. Entries are created on
	// demand and never removed; the map is tiny compared to user data.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (or creates) the registry database.
func New(opts Options) (*BadgerRegistry, error) {
	if opts.QuotaLimit <= 0 {
		opts.QuotaLimit = registry.DefaultQuotaLimit
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("badger registry: path is required")
		}
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	// Badger's own logger is chatty at INFO; the server has its own.
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	return &BadgerRegistry{
		db:         db,
		quotaLimit: opts.QuotaLimit,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing mutations for username.
func (r *BadgerRegistry) lockFor(username string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[username]
	if !ok {
		l = &sync.Mutex{}
		r.locks[username] = l
	}

	return l
}

func (r *BadgerRegistry) Lookup(ctx context.Context, username string) (*registry.UserInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *userRecord
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getUser(txn, username)
		return err
	})
	if err != nil {
		return nil, err
	}

	info := &registry.UserInfo{
		Username:   username,
		QuotaUsed:  rec.QuotaUsed,
		QuotaLimit: rec.QuotaLimit,
		Files:      make([]registry.FileInfo, 0, len(rec.Files)),
	}
	for name, size := range rec.Files {
		info.Files = append(info.Files, registry.FileInfo{Name: name, Size: size})
	}
	sort.Slice(info.Files, func(i, j int) bool { return info.Files[i].Name < info.Files[j].Name })

	return info, nil
}

func (r *BadgerRegistry) Authenticate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.View(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err == registry.ErrNotFound {
			return registry.ErrAuthFailed
		}
		if err != nil {
			return err
		}
		if rec.Password != password {
			return registry.ErrAuthFailed
		}
		return nil
	})
}

func (r *BadgerRegistry) CreateUser(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if username == "" || password == "" {
		return registry.ErrInvalidArgument
	}

	lock := r.lockFor(username)
	lock.Lock()
	defer lock.Unlock()

	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := getUser(txn, username); err == nil {
			return registry.ErrUserExists
		} else if err != registry.ErrNotFound {
			return err
		}

		return putUser(txn, username, &userRecord{
			Password:   password,
			QuotaLimit: r.quotaLimit,
			Files:      make(map[string]int64),
		})
	})
}

func (r *BadgerRegistry) CheckQuota(ctx context.Context, username string, additional int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.View(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err != nil {
			return err
		}
		if rec.QuotaUsed+additional > rec.QuotaLimit {
			return registry.ErrQuotaExceeded
		}
		return nil
	})
}

func (r *BadgerRegistry) HasFile(ctx context.Context, username, filename string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var owned bool
	err := r.db.View(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err != nil {
			return err
		}
		_, owned = rec.Files[filename]
		return nil
	})

	return owned, err
}

func (r *BadgerRegistry) RecordFile(ctx context.Context, username, filename string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if filename == "" || size < 0 {
		return registry.ErrInvalidArgument
	}

	lock := r.lockFor(username)
	lock.Lock()
	defer lock.Unlock()

	return r.db.Update(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err != nil {
			return err
		}

		if _, exists := rec.Files[filename]; exists {
			return registry.ErrFileExists
		}
		if rec.QuotaUsed+size > rec.QuotaLimit {
			return registry.ErrQuotaExceeded
		}

		rec.Files[filename] = size
		rec.QuotaUsed += size

		return putUser(txn, username, rec)
	})
}

func (r *BadgerRegistry) ForgetFile(ctx context.Context, username, filename string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lock := r.lockFor(username)
	lock.Lock()
	defer lock.Unlock()

	var size int64
	err := r.db.Update(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err != nil {
			return err
		}

		var exists bool
		size, exists = rec.Files[filename]
		if !exists {
			return registry.ErrFileNotFound
		}

		delete(rec.Files, filename)
		rec.QuotaUsed -= size
		if rec.QuotaUsed < 0 {
			rec.QuotaUsed = 0
		}

		return putUser(txn, username, rec)
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

func (r *BadgerRegistry) ListFiles(ctx context.Context, username string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := r.db.View(func(txn *badger.Txn) error {
		rec, err := getUser(txn, username)
		if err != nil {
			return err
		}
		names = make([]string, 0, len(rec.Files))
		for name := range rec.Files {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}

func (r *BadgerRegistry) Close() error {
	return r.db.Close()
}
