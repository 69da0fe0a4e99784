package cache

import (
	"context"
	"errors"
)

// ErrStoreDeleted is returned when writing through a handle whose store
// has been deleted from the storage.
var ErrStoreDeleted = errors.New("cache store deleted")

// Storage is a set of named cache stores.
// Only the store matching the current version tag is used for serving,
// all others are leftovers of earlier generations.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the store with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)
	// Keys returns the names of all stores, oldest first.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named store along with all of its entries.
	// It returns true if the store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Has checks if the named store exists.
	Has(ctx context.Context, name string) (bool, error)
}

// Store stores []byte values, which represent serialized HTTP responses,
// under request keys.
// Writes to a single key are atomic, there are no multi-key transactions.
type Store interface {
	Name() string
	// Match returns the stored response for the given key, if it exists.
	// The boolean indicates whether an entry was found.
	Match(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the response bytes under the given key, replacing any
	// previous entry.
	Put(ctx context.Context, key string, bytes []byte) error
	// Delete removes a single entry and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all entry keys in the store.
	Keys(ctx context.Context) ([]string, error)
}
