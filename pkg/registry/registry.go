// Package registry defines the user registry consumed by the worker pool:
// credential checks, signup, quota accounting and per-user file ownership.
//
// The registry is the source of truth for LIST and for quota bookkeeping.
// Implementations must serialize mutations to a single user's state (file
// list and quota counters) so that tasks interleaving on different workers
// cannot corrupt it, while keeping distinct users fully concurrent.
package registry

import (
	"context"
	"errors"
)

// DefaultQuotaLimit is the per-user byte budget applied to new accounts
// unless configured otherwise.
const DefaultQuotaLimit = 100 * 1024 * 1024 // 100 MiB

var (
	// ErrNotFound indicates the username is unknown.
	ErrNotFound = errors.New("user not found")

	// ErrUserExists indicates a signup collided with an existing username.
	ErrUserExists = errors.New("user already exists")

	// ErrAuthFailed indicates a password mismatch.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrQuotaExceeded indicates the operation would push quota_used past
	// quota_limit.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrFileExists indicates the user already owns a file with that name.
	ErrFileExists = errors.New("file already recorded")

	// ErrFileNotFound indicates the user does not own a file with that name.
	ErrFileNotFound = errors.New("file not recorded")

	// ErrInvalidArgument indicates an empty or malformed username, password
	// or filename.
	ErrInvalidArgument = errors.New("invalid argument")
)

// FileInfo describes one file owned by a user.
type FileInfo struct {
	Name string
	Size int64
}

// UserInfo is a point-in-time snapshot of a user's account. It is a copy:
// mutating it has no effect on the registry.
type UserInfo struct {
	Username   string
	QuotaUsed  int64
	QuotaLimit int64
	Files      []FileInfo
}

// UserRegistry is the collaborator interface the server core depends on.
//
// Lookup/CreateUser/Authenticate take a registry-level lock only for the
// duration of the table access; file and quota operations take the
// affected user's lock only.
type UserRegistry interface {
	// Lookup returns a snapshot of the user, or ErrNotFound.
	Lookup(ctx context.Context, username string) (*UserInfo, error)

	// Authenticate verifies username/password equality. Returns
	// ErrAuthFailed on mismatch or unknown user.
	Authenticate(ctx context.Context, username, password string) error

	// CreateUser registers a new account with the configured quota limit.
	// Returns ErrUserExists if the name is taken.
	CreateUser(ctx context.Context, username, password string) error

	// CheckQuota reports whether the user can store additional bytes.
	// Returns ErrQuotaExceeded if not, ErrNotFound for unknown users.
	CheckQuota(ctx context.Context, username string, additional int64) error

	// HasFile reports whether the user currently owns filename.
	HasFile(ctx context.Context, username, filename string) (bool, error)

	// RecordFile adds filename to the user's ownership set and charges
	// size against the quota, atomically under the user's lock. Returns
	// ErrFileExists for duplicates and ErrQuotaExceeded when over budget.
	RecordFile(ctx context.Context, username, filename string, size int64) error

	// ForgetFile removes filename from the ownership set and refunds its
	// size. Returns the refunded size, or ErrFileNotFound.
	ForgetFile(ctx context.Context, username, filename string) (int64, error)

	// ListFiles returns the names of the user's files, sorted.
	ListFiles(ctx context.Context, username string) ([]string, error)

	// Close releases any resources held by the registry.
	Close() error
}
