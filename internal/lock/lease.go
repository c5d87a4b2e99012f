package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solorun/solorun/internal/coord"
)

// DefaultLeaseTTL bounds a lease when no TTL is configured. Size the TTL
// comfortably above the longest expected workload run: the lease is not
// renewed while the workload executes, so a run that outlives it loses
// mutual exclusion.
const DefaultLeaseTTL = 10 * time.Minute

// LeaseLock implements Strategy with an optimistic-concurrency write plus a
// store-managed expiry. A crashed holder's record is reaped by the store once
// the TTL elapses, so the lock self-heals without operator action, at the
// cost of an unavailability window of up to the TTL.
type LeaseLock struct {
	store coord.Store
	key   string
	ttl   time.Duration
	owner string
}

// LeaseOption configures a LeaseLock.
type LeaseOption func(*LeaseLock)

// WithTTL overrides DefaultLeaseTTL.
func WithTTL(ttl time.Duration) LeaseOption {
	return func(l *LeaseLock) {
		l.ttl = ttl
	}
}

// NewLeaseLock creates a lease lock on the given key.
func NewLeaseLock(store coord.Store, key string, opts ...LeaseOption) *LeaseLock {
	l := &LeaseLock{
		store: store,
		key:   key,
		ttl:   DefaultLeaseTTL,
		owner: instanceName(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire writes the lease record with the expiry attached in the same
// store write. Each acquisition gets a fresh holder identity so a token from
// an earlier run can never release a later holder's lease.
func (l *LeaseLock) Acquire(ctx context.Context) (Token, bool, error) {
	holder := l.owner + ":" + uuid.NewString()

	created, err := l.store.PutLease(ctx, l.key, holder, l.ttl)
	if err != nil {
		if created {
			// The record was written but the durability requirement was not
			// met. Back out rather than hand the caller a lease weaker than
			// asked for; if this delete fails too, the TTL bounds the record.
			_, _ = l.store.Delete(ctx, l.key, holder)
		}
		return Token{}, false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	if !created {
		return Token{}, false, nil
	}

	now := time.Now().UTC()
	return Token{
		Key:        l.key,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}, true, nil
}

// Release deletes the record by holder identity. ErrNotHeld means the lease
// already expired, was already released, or belongs to someone else; in all
// three cases nothing was touched, and an orphaned record will still be
// reaped by the store at its expiry.
func (l *LeaseLock) Release(ctx context.Context, token Token) error {
	deleted, err := l.store.Delete(ctx, token.Key, token.Holder)
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", token.Key, err)
	}
	if !deleted {
		return ErrNotHeld
	}
	return nil
}

// Key implements Strategy.
func (l *LeaseLock) Key() string { return l.key }

// TTL returns the configured lease duration.
func (l *LeaseLock) TTL() time.Duration { return l.ttl }
