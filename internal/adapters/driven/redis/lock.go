package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*LeaseLock)(nil)

const leaseKeyPrefix = "agencylink:lease:"

// errLeaseLost is returned by Extend when the lease expired or was never taken.
var errLeaseLost = errors.New("lease not held")

// LeaseLock hands out named leases backed by Redis keys with a TTL. Every
// successful Acquire stores a fresh lease id, so Release and Extend only touch
// a key while it still carries the id this instance wrote.
type LeaseLock struct {
	client redis.UniversalClient

	mu     sync.Mutex
	leases map[string]string // name -> lease id
}

// NewLeaseLock creates a Redis-backed lease lock.
func NewLeaseLock(client redis.UniversalClient) *LeaseLock {
	return &LeaseLock{
		client: client,
		leases: make(map[string]string),
	}
}

func leaseKey(name string) string {
	return leaseKeyPrefix + name
}

// Acquire takes the lease if the key is free. It never blocks.
func (l *LeaseLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	id := uuid.NewString()
	err := l.client.SetArgs(ctx, leaseKey(name), id, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}

	l.mu.Lock()
	l.leases[name] = id
	l.mu.Unlock()
	return true, nil
}

// leaseScript compares the stored id before acting. ARGV[2] is a TTL in
// milliseconds to extend by, or 0 to delete the key.
var leaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return redis.call("del", KEYS[1])
`)

// Release drops the lease. Releasing a lease this instance does not hold is
// a no-op.
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	id, ok := l.leases[name]
	delete(l.leases, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := leaseScript.Run(ctx, l.client, []string{leaseKey(name)}, id, 0).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Extend pushes the lease expiry out to ttl from now.
func (l *LeaseLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	id, ok := l.leases[name]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("extend lease %s: %w", name, errLeaseLost)
	}

	n, err := leaseScript.Run(ctx, l.client, []string{leaseKey(name)}, id, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", name, err)
	}
	if n == 0 {
		l.mu.Lock()
		if l.leases[name] == id {
			delete(l.leases, name)
		}
		l.mu.Unlock()
		return fmt.Errorf("extend lease %s: %w", name, errLeaseLost)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *LeaseLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
