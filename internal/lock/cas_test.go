package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCASLock_AcquireAndRelease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	a := NewCASLock(store, "migration-lock")
	b := NewCASLock(store, "migration-lock")

	tokenA, acquired, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !acquired {
		t.Fatal("first Acquire should succeed")
	}
	if tokenA.Version == 0 {
		t.Error("token should carry the store-assigned version")
	}

	// Contention is a plain false, not an error.
	_, acquired, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("contending Acquire() error = %v", err)
	}
	if acquired {
		t.Fatal("second Acquire should lose while the lock is held")
	}

	if err := a.Release(ctx, tokenA); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// Released key is immediately acquirable, with a higher version.
	tokenB, acquired, err := b.Acquire(ctx)
	if err != nil || !acquired {
		t.Fatalf("Acquire() after release = (%v, %v), want acquired", acquired, err)
	}
	if tokenB.Version <= tokenA.Version {
		t.Errorf("version = %d, want > %d", tokenB.Version, tokenA.Version)
	}
}

func TestCASLock_ReleaseStaleToken(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	l := NewCASLock(store, "migration-lock")

	token, _, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	stale := token
	stale.Version = token.Version + 100
	if err := l.Release(ctx, stale); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release(stale) error = %v, want ErrNotHeld", err)
	}
	if !store.has("migration-lock") {
		t.Error("stale release must leave the live record untouched")
	}
}

func TestCASLock_DoubleRelease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	l := NewCASLock(store, "migration-lock")

	token, _, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(ctx, token); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := l.Release(ctx, token); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("second Release() error = %v, want ErrNotHeld", err)
	}
}

func TestCASLock_StoreErrors(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	l := NewCASLock(store, "migration-lock")

	store.putErr = errors.New("connection refused")
	if _, _, err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire() should surface store errors")
	}
	store.putErr = nil

	token, _, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	store.deleteErr = errors.New("connection refused")
	if err := l.Release(ctx, token); err == nil || errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release() error = %v, want a store error distinct from ErrNotHeld", err)
	}
}

func TestCASLock_ConcurrentAcquire_OneWinner(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	const contenders = 16
	results := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		go func(id int) {
			l := NewCASLock(store, "migration-lock")
			l.value = fmt.Sprintf("instance-%d", id)
			_, acquired, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
			results <- acquired
		}(i)
	}

	winners := 0
	for i := 0; i < contenders; i++ {
		if <-results {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
