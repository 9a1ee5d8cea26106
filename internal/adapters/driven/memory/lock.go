package memory

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// Lock is a process-local DistributedLock. It only coordinates goroutines
// of one instance.
type Lock struct {
	c *gocache.Cache
}

// NewLock creates an in-memory lock.
func NewLock() *Lock {
	return &Lock{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

// Acquire takes the lock if it is free or its TTL has passed.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	// Add is atomic and treats expired items as absent.
	if err := l.c.Add(name, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Release frees the lock. Releasing a free lock is a no-op.
func (l *Lock) Release(ctx context.Context, name string) error {
	l.c.Delete(name)
	return nil
}

// Extend resets the TTL of a held lock.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if err := l.c.Replace(name, struct{}{}, ttl); err != nil {
		return fmt.Errorf("lock %s not held", name)
	}
	return nil
}

// Ping always succeeds.
func (l *Lock) Ping(ctx context.Context) error {
	return nil
}
