package badger

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/stashd/pkg/registry"
)

// Storage model
// =============
//
// One key per user, namespaced with the "user:" prefix:
//
//	user:<username> -> JSON-encoded userRecord
//
// JSON is chosen over a binary encoding for the same reason the rest of
// the project prefers it for metadata: records are small (a password, two
// counters and a filename map), schema evolution is painless, and the
// database stays inspectable with badger's CLI tooling.

const userKeyPrefix = "user:"

// userRecord is the persisted account state.
type userRecord struct {
	Password   string           `json:"password"`
	QuotaUsed  int64            `json:"quota_used"`
	QuotaLimit int64            `json:"quota_limit"`
	Files      map[string]int64 `json:"files"`
}

func userKey(username string) []byte {
	return []byte(userKeyPrefix + username)
}

// getUser loads and decodes a user record inside txn. Returns
// registry.ErrNotFound for unknown usernames.
func getUser(txn *badger.Txn, username string) (*userRecord, error) {
	item, err := txn.Get(userKey(username))
	if err == badger.ErrKeyNotFound {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user %q: %w", username, err)
	}

	var rec userRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode user %q: %w", username, err)
	}

	if rec.Files == nil {
		rec.Files = make(map[string]int64)
	}

	return &rec, nil
}

// putUser encodes and stores a user record inside txn.
func putUser(txn *badger.Txn, username string, rec *userRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode user %q: %w", username, err)
	}

	if err := txn.Set(userKey(username), encoded); err != nil {
		return fmt.Errorf("failed to store user %q: %w", username, err)
	}

	return nil
}
