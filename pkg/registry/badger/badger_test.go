package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stashd/pkg/registry"
)

func newTestRegistry(t *testing.T) *BadgerRegistry {
	t.Helper()

	reg, err := New(Options{InMemory: true, QuotaLimit: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	return reg
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.CreateUser(ctx, "alice", "secret1"))

	assert.NoError(t, reg.Authenticate(ctx, "alice", "secret1"))
	assert.ErrorIs(t, reg.Authenticate(ctx, "alice", "wrong"), registry.ErrAuthFailed)
	assert.ErrorIs(t, reg.Authenticate(ctx, "ghost", "x"), registry.ErrAuthFailed)

	assert.ErrorIs(t, reg.CreateUser(ctx, "alice", "again"), registry.ErrUserExists)
}

func TestFileAccounting(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.CreateUser(ctx, "bob", "pw"))

	require.NoError(t, reg.RecordFile(ctx, "bob", "a.txt", 400))
	require.NoError(t, reg.RecordFile(ctx, "bob", "b.txt", 600))

	assert.ErrorIs(t, reg.RecordFile(ctx, "bob", "c.txt", 1), registry.ErrQuotaExceeded)
	assert.ErrorIs(t, reg.RecordFile(ctx, "bob", "a.txt", 1), registry.ErrFileExists)

	owned, err := reg.HasFile(ctx, "bob", "a.txt")
	require.NoError(t, err)
	assert.True(t, owned)

	names, err := reg.ListFiles(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	size, err := reg.ForgetFile(ctx, "bob", "a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 400, size)

	info, err := reg.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 600, info.QuotaUsed)

	_, err = reg.ForgetFile(ctx, "bob", "a.txt")
	assert.ErrorIs(t, err, registry.ErrFileNotFound)
}

// TestPersistenceAcrossReopen verifies the point of this registry: signup
// and ownership survive a close/reopen cycle.
func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reg, err := New(Options{Path: dir, QuotaLimit: 1000})
	require.NoError(t, err)

	require.NoError(t, reg.CreateUser(ctx, "alice", "secret1"))
	require.NoError(t, reg.RecordFile(ctx, "alice", "kept.txt", 123))
	require.NoError(t, reg.Close())

	reopened, err := New(Options{Path: dir, QuotaLimit: 1000})
	require.NoError(t, err)
	defer reopened.Close()

	assert.NoError(t, reopened.Authenticate(ctx, "alice", "secret1"))

	info, err := reopened.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 123, info.QuotaUsed)
	require.Len(t, info.Files, 1)
	assert.Equal(t, "kept.txt", info.Files[0].Name)
}

func TestPathRequired(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
