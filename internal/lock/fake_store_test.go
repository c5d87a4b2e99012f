package lock

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory coord.Store for tests. It models a store with a
// working expiry reaper: expired records are invisible to every operation.
// The clock is virtual so lease expiry can be tested without sleeping.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*fakeRecord
	counter int64
	offset  time.Duration

	putErr        error // returned by PutIfAbsent and PutLease
	deleteErr     error // returned by Delete and DeleteIfVersion
	durabilityErr error // returned by PutLease after a successful write
}

type fakeRecord struct {
	value     string
	holder    string
	version   int64
	expiresAt time.Time // zero means no expiry
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*fakeRecord)}
}

func (f *fakeStore) now() time.Time {
	return time.Now().Add(f.offset)
}

// advance moves the virtual clock forward.
func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset += d
}

// live returns the record for key, treating expired records as absent.
func (f *fakeStore) live(key string) *fakeRecord {
	rec, ok := f.records[key]
	if !ok {
		return nil
	}
	if !rec.expiresAt.IsZero() && !f.now().Before(rec.expiresAt) {
		delete(f.records, key)
		return nil
	}
	return rec
}

func (f *fakeStore) PutIfAbsent(_ context.Context, key, value string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return 0, false, f.putErr
	}
	if f.live(key) != nil {
		return 0, false, nil
	}
	f.counter++
	f.records[key] = &fakeRecord{value: value, version: f.counter}
	return f.counter, true, nil
}

func (f *fakeStore) DeleteIfVersion(_ context.Context, key string, version int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	rec := f.live(key)
	if rec == nil || rec.version != version {
		return false, nil
	}
	delete(f.records, key)
	return true, nil
}

func (f *fakeStore) PutLease(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return false, f.putErr
	}
	if f.live(key) != nil {
		return false, nil
	}
	f.counter++
	f.records[key] = &fakeRecord{
		value:     holder,
		holder:    holder,
		version:   f.counter,
		expiresAt: f.now().Add(ttl),
	}
	if f.durabilityErr != nil {
		return true, f.durabilityErr
	}
	return true, nil
}

func (f *fakeStore) Delete(_ context.Context, key, holder string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	rec := f.live(key)
	if rec == nil || rec.holder != holder {
		return false, nil
	}
	delete(f.records, key)
	return true, nil
}

// has reports whether a live record exists for key.
func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live(key) != nil
}

// holderOf returns the holder of the live record for key, or "".
func (f *fakeStore) holderOf(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.live(key)
	if rec == nil {
		return ""
	}
	return rec.holder
}
