package store

import (
	"context"
)

// KV defines the primitive operations of the flat string-keyed byte-blob
// persistence capability the Store encrypts into.  Implementations must
// support atomic per-key put/get/delete; no cross-key transactions are
// required.
type KV interface {
	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the value stored under key.  Returns ErrKeyNotFound if
	// the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key.  Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every stored key.
	ListKeys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the implementation.
	Close() error
}
