package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisReleaseScript deletes the lease only if it is still owned by the
// caller, so an expired lease cannot release a successor's lock.
// KEYS[1] = lease key, ARGV[1] = owner token
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes per-tenant ledger appends across processes
// with a short-lived Redis lease. Single-process deployments do not
// need this; the in-process tenant mutex is sufficient there.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisLocker creates a locker with the given lease TTL. The TTL
// bounds how long a crashed holder can stall other writers.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		retryWait: 25 * time.Millisecond,
	}
}

// Acquire blocks until the tenant lease is held or ctx is done.
func (r *RedisLocker) Acquire(ctx context.Context, tenantID string) (func(), error) {
	key := "audit:append_lease:" + tenantID
	owner := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, key, owner, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("audit: redis lease: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryWait):
		}
	}

	release := func() {
		// Best-effort: an expired lease self-cleans via TTL.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = redisReleaseScript.Run(ctx, r.client, []string{key}, owner).Result()
	}
	return release, nil
}
