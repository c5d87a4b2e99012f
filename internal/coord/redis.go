package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putIfAbsentScript atomically creates the lock hash and assigns it a
// monotonically increasing version drawn from a companion counter key. The
// counter survives deletion of the lock so versions never repeat.
var putIfAbsentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return {0, 0}
end
local v = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[1], "value", ARGV[1], "version", v)
return {1, v}
`)

// deleteIfVersionScript deletes the lock hash only when its stored version
// matches the caller's. A mismatched or absent record is left untouched.
var deleteIfVersionScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], "version")
if v and tonumber(v) == tonumber(ARGV[1]) then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// deleteIfHolderScript deletes the lease only when it is still owned by the
// caller.
var deleteIfHolderScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store against Redis. Compare-and-swap records are
// hashes with a version field assigned from a per-key counter; lease records
// are plain keys written with SET NX PX, so orphaned leases are reaped by
// Redis itself once the TTL elapses.
type RedisStore struct {
	client      *redis.Client
	durableAcks int
	ackTimeout  time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithDurableAcks makes PutLease wait until the write has been acknowledged
// by at least n replicas (Redis WAIT) before reporting success, trading
// latency for durability of the mutual-exclusion guarantee under replica
// failover.
func WithDurableAcks(n int, timeout time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.durableAcks = n
		s.ackTimeout = timeout
	}
}

// NewRedisStore creates a Redis-backed coordination store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		ackTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func versionCounterKey(key string) string {
	return key + ":version"
}

// PutIfAbsent implements Store.PutIfAbsent via a Lua script so the existence
// check, version assignment and write are indivisible.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key, value string) (int64, bool, error) {
	res, err := putIfAbsentScript.Run(ctx, s.client, []string{key, versionCounterKey(key)}, value).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis put-if-absent %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis put-if-absent %s: unexpected reply %v", key, res)
	}
	created, _ := res[0].(int64)
	version, _ := res[1].(int64)
	if created != 1 {
		return 0, false, nil
	}
	return version, true, nil
}

// DeleteIfVersion implements Store.DeleteIfVersion.
func (s *RedisStore) DeleteIfVersion(ctx context.Context, key string, version int64) (bool, error) {
	res, err := deleteIfVersionScript.Run(ctx, s.client, []string{key}, version).Int64()
	if err != nil {
		return false, fmt.Errorf("redis delete-if-version %s: %w", key, err)
	}
	return res == 1, nil
}

// PutLease implements Store.PutLease using SET NX PX: creation and expiry are
// one atomic write, and expiry is enforced by the store, not the client.
func (s *RedisStore) PutLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis put-lease %s: %w", key, err)
	}
	if !created {
		return false, nil
	}

	if s.durableAcks > 0 {
		acks, err := s.client.Wait(ctx, s.durableAcks, s.ackTimeout).Result()
		if err != nil {
			return true, fmt.Errorf("redis put-lease %s: waiting for replica acks: %w", key, err)
		}
		if acks < int64(s.durableAcks) {
			return true, fmt.Errorf("redis put-lease %s: acknowledged by %d/%d replicas", key, acks, s.durableAcks)
		}
	}
	return true, nil
}

// Delete implements Store.Delete: the lease is removed only if holder still
// owns it.
func (s *RedisStore) Delete(ctx context.Context, key, holder string) (bool, error) {
	res, err := deleteIfHolderScript.Run(ctx, s.client, []string{key}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return res == 1, nil
}

// ForceDelete unconditionally removes the lock record for key, regardless of
// owner or version. This is the manual intervention for a compare-and-swap
// lock orphaned by a crashed holder; the version counter is kept so a later
// acquisition still receives a fresh version.
func (s *RedisStore) ForceDelete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis force-delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Ping verifies connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
