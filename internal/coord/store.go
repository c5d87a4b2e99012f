// Package coord defines the coordination-store contract the lock strategies
// are built on, together with Redis and PostgreSQL implementations. The store
// is the sole arbiter of ordering between contending instances: every
// operation here is atomic with respect to concurrent callers on the same key.
package coord

import (
	"context"
	"time"
)

// Store is the minimal contract a coordination store must provide for
// distributed locking. Records are only ever created or deleted whole; there
// is no update-in-place.
type Store interface {
	// PutIfAbsent atomically creates key with the given value if and only if
	// the key does not already exist. On success it returns the
	// store-assigned version, which increases monotonically across
	// successive creations of the same key. created is false when the key
	// is already present.
	PutIfAbsent(ctx context.Context, key, value string) (version int64, created bool, err error)

	// DeleteIfVersion deletes key if and only if its current version equals
	// version. deleted is false when the key is absent or the version does
	// not match; the live record is left untouched in that case.
	DeleteIfVersion(ctx context.Context, key string, version int64) (deleted bool, err error)

	// PutLease atomically creates key owned by holder with an expiry of
	// now+ttl attached in the same write. created is false when an
	// unexpired record already exists.
	PutLease(ctx context.Context, key, holder string, ttl time.Duration) (created bool, err error)

	// Delete removes key if it is currently owned by holder. deleted is
	// false when the record is absent or owned by someone else, in which
	// case the record is left untouched.
	Delete(ctx context.Context, key, holder string) (deleted bool, err error)
}
