package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserRegistryMemory(t *testing.T) {
	ctx := context.Background()

	reg, err := CreateUserRegistry(ctx, &RegistryConfig{Type: "memory"}, &QuotaConfig{LimitBytes: 1024})
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.CreateUser(ctx, "alice", "pw"))

	info, err := reg.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.QuotaLimit)
}

func TestCreateUserRegistryBadger(t *testing.T) {
	ctx := context.Background()

	cfg := &RegistryConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true},
	}

	reg, err := CreateUserRegistry(ctx, cfg, &QuotaConfig{})
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.CreateUser(ctx, "bob", "pw"))
	assert.NoError(t, reg.Authenticate(ctx, "bob", "pw"))
}

func TestCreateUserRegistryUnknownType(t *testing.T) {
	_, err := CreateUserRegistry(context.Background(), &RegistryConfig{Type: "postgres"}, &QuotaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown registry type")
}

func TestCreateFileStoreFilesystem(t *testing.T) {
	ctx := context.Background()

	cfg := &StorageConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": t.TempDir()},
	}

	store, err := CreateFileStore(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "alice", "a.txt", []byte("x")))

	data, err := store.Load(ctx, "alice", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestCreateFileStoreFilesystemRequiresPath(t *testing.T) {
	cfg := &StorageConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, err := CreateFileStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCreateFileStoreMemory(t *testing.T) {
	store, err := CreateFileStore(context.Background(), &StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestCreateFileStoreUnknownType(t *testing.T) {
	_, err := CreateFileStore(context.Background(), &StorageConfig{Type: "floppy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}
