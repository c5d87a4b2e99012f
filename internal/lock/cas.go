package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/solorun/solorun/internal/coord"
)

// CASLock implements Strategy with an atomic create-if-absent write and a
// version-gated delete. It needs nothing from the store beyond a conditional
// key-value primitive and gives an immediately observable uniqueness
// guarantee, but a crashed holder leaks the lock until an operator
// force-clears the record: there is no TTL self-heal.
type CASLock struct {
	store coord.Store
	key   string
	value string
}

// NewCASLock creates a compare-and-swap lock on the given key. The stored
// value identifies this instance for debugging; it plays no part in the
// release protocol, which is gated on the store-assigned version alone.
func NewCASLock(store coord.Store, key string) *CASLock {
	return &CASLock{
		store: store,
		key:   key,
		value: instanceName(),
	}
}

// Acquire issues the atomic create. Contention (the key already exists) is
// reported as acquired=false, not as an error.
func (l *CASLock) Acquire(ctx context.Context) (Token, bool, error) {
	version, created, err := l.store.PutIfAbsent(ctx, l.key, l.value)
	if err != nil {
		return Token{}, false, fmt.Errorf("acquiring cas lock %s: %w", l.key, err)
	}
	if !created {
		return Token{}, false, nil
	}
	return Token{
		Key:        l.key,
		Holder:     l.value,
		Version:    version,
		AcquiredAt: time.Now().UTC(),
	}, true, nil
}

// Release deletes the record only if its version still matches the token.
// ErrNotHeld means someone force-cleared the record (or the token is stale);
// the live record, if any, is untouched.
func (l *CASLock) Release(ctx context.Context, token Token) error {
	deleted, err := l.store.DeleteIfVersion(ctx, token.Key, token.Version)
	if err != nil {
		return fmt.Errorf("releasing cas lock %s: %w", token.Key, err)
	}
	if !deleted {
		return ErrNotHeld
	}
	return nil
}

// Key implements Strategy.
func (l *CASLock) Key() string { return l.key }
