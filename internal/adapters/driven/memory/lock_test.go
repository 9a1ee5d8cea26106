package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLock()

	ok, err := l.Acquire(ctx, "discovery:C1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "discovery:C1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	ok, _ = l.Acquire(ctx, "discovery:C2", time.Minute)
	assert.True(t, ok, "locks are per name")

	require.NoError(t, l.Release(ctx, "discovery:C1"))
	ok, _ = l.Acquire(ctx, "discovery:C1", time.Minute)
	assert.True(t, ok)
}

func TestLock_Expires(t *testing.T) {
	ctx := context.Background()
	l := NewLock()

	ok, _ := l.Acquire(ctx, "k", 20*time.Millisecond)
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)

	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok, "expired lock can be re-acquired")
}

func TestLock_Extend(t *testing.T) {
	ctx := context.Background()
	l := NewLock()

	assert.Error(t, l.Extend(ctx, "k", time.Minute))

	ok, _ := l.Acquire(ctx, "k", 30*time.Millisecond)
	require.True(t, ok)
	require.NoError(t, l.Extend(ctx, "k", time.Minute))
	time.Sleep(50 * time.Millisecond)

	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "extended lock is still held")
	assert.NoError(t, l.Ping(ctx))
}

func TestLock_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLock()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire(ctx, "k", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
