// Package store defines the Shared State Store abstraction: a small KV contract with
// atomic set-if-absent, compare-and-renew, and compare-and-delete operations, sufficient
// to implement a correct distributed ConnectionLock without ever doing a read-then-write
// outside of a single atomic operation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any error returned because the backing store could not be reached.
var ErrUnavailable = errors.New("store: unavailable")

// KV is the Shared State Store contract (spec Component A).
//
// All TTLs are rounded up to whole seconds by callers (internal/timeutil) before being
// passed here, since not every backend can represent sub-second expirations.
type KV interface {
	// Get returns the current value for key. ok is false if the key does not exist or has
	// expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetNX sets key to value with the given TTL only if key does not currently exist.
	// acquired is false (with a nil error) if another value already occupies the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (acquired bool, err error)

	// CompareAndRenew extends key's TTL only if its current value equals expected.
	// renewed is false (with a nil error) if the key is absent or holds a different value.
	CompareAndRenew(ctx context.Context, key, expected string, ttl time.Duration) (renewed bool, err error)

	// CompareAndDelete deletes key only if its current value equals expected.
	// deleted is false (with a nil error) if the key is absent or holds a different value.
	CompareAndDelete(ctx context.Context, key, expected string) (deleted bool, err error)

	// TTLOf returns the remaining TTL for key. ok is false if the key does not exist.
	TTLOf(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Close releases any resources held by the store client.
	Close() error
}
