package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Ensure MockTokenStore implements TokenStore
var _ driven.TokenStore = (*MockTokenStore)(nil)

// MockTokenStore is an in-memory TokenStore with the same merge semantics as
// the real adapters. Safe for concurrent use.
type MockTokenStore struct {
	mu      sync.RWMutex
	records map[string]*domain.InstallRecord
	upserts map[string]int
	now     func() time.Time

	// Custom behavior hooks (optional)
	UpsertFn func(tenantKey string, patch domain.InstallPatch) error
	GetFn    func(tenantKey string) (*domain.InstallRecord, error)
	PingFn   func() error
}

// NewMockTokenStore creates a new MockTokenStore
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{
		records: make(map[string]*domain.InstallRecord),
		upserts: make(map[string]int),
		now:     time.Now,
	}
}

func (m *MockTokenStore) Upsert(ctx context.Context, tenantKey string, patch domain.InstallPatch) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(tenantKey, patch); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[tenantKey]
	if !ok {
		rec = &domain.InstallRecord{TenantKey: tenantKey, CreatedAt: now}
		m.records[tenantKey] = rec
	}
	rec.Apply(patch)
	rec.UpdatedAt = now
	m.upserts[tenantKey]++
	return nil
}

func (m *MockTokenStore) GetByTenantKey(ctx context.Context, tenantKey string) (*domain.InstallRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(tenantKey)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[tenantKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MockTokenStore) FindAnyAgencyInstall(ctx context.Context) (*domain.InstallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range m.sortedKeys() {
		if rec := m.records[key]; rec.ScopeKind == domain.ScopeAgency {
			return cloneRecord(rec), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTokenStore) FindSubAccountInstall(ctx context.Context, agencyID string) (*domain.InstallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest *domain.InstallRecord
	for _, key := range m.sortedKeys() {
		rec := m.records[key]
		if rec.ScopeKind != domain.ScopeSubAccount || rec.AgencyID != agencyID || rec.Tokens == nil {
			continue
		}
		if newest == nil || rec.UpdatedAt.After(newest.UpdatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(newest), nil
}

func (m *MockTokenStore) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Put stores a record as-is (for test setup).
func (m *MockTokenStore) Put(rec *domain.InstallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TenantKey] = cloneRecord(rec)
}

// Keys returns all tenant keys in sorted order (for test assertions).
func (m *MockTokenStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedKeys()
}

// UpsertCount returns how many times tenantKey was written.
func (m *MockTokenStore) UpsertCount(tenantKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts[tenantKey]
}

// SetClock overrides the store clock.
func (m *MockTokenStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockTokenStore) sortedKeys() []string {
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneRecord(rec *domain.InstallRecord) *domain.InstallRecord {
	out := *rec
	if rec.Scopes != nil {
		out.Scopes = append([]string(nil), rec.Scopes...)
	}
	if rec.Tokens != nil {
		tokens := *rec.Tokens
		out.Tokens = &tokens
	}
	return &out
}
