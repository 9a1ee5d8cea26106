package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

func TestOAuthStateStore_SingleUse(t *testing.T) {
	store := NewOAuthStateStore(10 * time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &driven.OAuthState{
		State:     "abc",
		UserType:  domain.UserTypeLocation,
		ExpiresAt: time.Now().Add(time.Minute),
	}))
	assert.Equal(t, 1, store.Len())

	got, err := store.GetAndDelete(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.UserTypeLocation, got.UserType)

	got, err = store.GetAndDelete(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOAuthStateStore_Expired(t *testing.T) {
	store := NewOAuthStateStore(10 * time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &driven.OAuthState{State: "old", ExpiresAt: time.Now().Add(-time.Second)}))
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Save(ctx, &driven.OAuthState{State: "brief", ExpiresAt: time.Now().Add(20 * time.Millisecond)}))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, store.Cleanup(ctx))

	got, err := store.GetAndDelete(ctx, "brief")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOAuthStateStore_ConcurrentConsume(t *testing.T) {
	store := NewOAuthStateStore(10 * time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &driven.OAuthState{State: "race", ExpiresAt: time.Now().Add(time.Minute)}))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st, _ := store.GetAndDelete(ctx, "race"); st != nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
