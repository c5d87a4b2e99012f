// Package lock implements the distributed single-instance execution lock:
// two interchangeable consistency strategies over a coordination store, and
// a runner that wraps a protected workload with release on every exit path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNotHeld is returned by Release when the presented token no longer
// matches the live lock record. The record, if any, is left untouched.
var ErrNotHeld = errors.New("lock not held by this token")

// Token is the proof of ownership returned by a successful Acquire and
// required to authorize the matching Release. It wraps store-assigned state
// (the record version for the compare-and-swap variant, a generated holder
// identity for the lease variant) and cannot be forged from client state.
type Token struct {
	Key        string
	Holder     string
	Version    int64 // zero for lease locks
	AcquiredAt time.Time
	ExpiresAt  time.Time // zero for compare-and-swap locks
}

// Strategy is a swappable lock consistency mechanism. Acquire never blocks
// waiting for the lock: it returns acquired=false immediately when another
// instance holds it, which is a routine outcome under contention rather than
// an error. There is no queueing or fairness among contenders.
type Strategy interface {
	// Acquire attempts to take the lock. On success the returned Token
	// authorizes the matching Release.
	Acquire(ctx context.Context) (token Token, acquired bool, err error)

	// Release gives the lock back. A stale or mismatched token fails with
	// ErrNotHeld and has no side effect on the live record.
	Release(ctx context.Context, token Token) error

	// Key returns the well-known identifier all instances contend on.
	Key() string
}

// instanceName identifies this process in lock records for debugging.
func instanceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
