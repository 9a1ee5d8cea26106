// Package memory holds single-process adapters used when Redis is not configured.
package memory

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// OAuthStateStore keeps install flow states in process memory. States are
// lost on restart and are not shared between instances.
type OAuthStateStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewOAuthStateStore creates an in-memory state store. defaultTTL applies to
// states saved without an expiry.
func NewOAuthStateStore(defaultTTL time.Duration) *OAuthStateStore {
	return &OAuthStateStore{c: gocache.New(defaultTTL, time.Minute)}
}

// Save stores the state until its ExpiresAt.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	ttl := gocache.DefaultExpiration
	if !state.ExpiresAt.IsZero() {
		ttl = time.Until(state.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	stored := *state
	s.c.Set(state.State, &stored, ttl)
	return nil
}

// GetAndDelete returns the state and forgets it. The mutex makes the
// read-then-delete atomic.
func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(state)
	if !ok {
		return nil, nil
	}
	s.c.Delete(state)
	st, _ := v.(*driven.OAuthState)
	return st, nil
}

// Cleanup evicts expired states now instead of waiting for the janitor.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	s.c.DeleteExpired()
	return nil
}

// Len reports how many states are pending.
func (s *OAuthStateStore) Len() int {
	return s.c.ItemCount()
}
