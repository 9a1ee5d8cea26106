package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Ensure MockPlatformClient implements PlatformClient
var _ driven.PlatformClient = (*MockPlatformClient)(nil)

// MockPlatformClient is a PlatformClient driven by function hooks.
// Unset hooks return an error (or an empty identity). Call counts are kept
// per method for assertions.
type MockPlatformClient struct {
	mu    sync.Mutex
	calls map[string]int

	ClientIDValue string

	ExchangeFn       func(ctx context.Context, req driven.ExchangeRequest) (*driven.TokenResult, error)
	RefreshFn        func(ctx context.Context, refreshToken string) (*driven.TokenResult, error)
	IdentifyFn       func(ctx context.Context, accessToken string) driven.Identity
	ListInstalledFn  func(ctx context.Context, accessToken, agencyID string) ([]domain.SubAccountSnapshot, error)
	ListSubAccountFn func(ctx context.Context, accessToken, agencyID string, page, pageSize int) (driven.SubAccountPage, error)
	MintFn           func(ctx context.Context, agencyAccessToken, agencyID, subAccountID string) (*driven.TokenResult, error)
}

// NewMockPlatformClient creates a new MockPlatformClient
func NewMockPlatformClient() *MockPlatformClient {
	return &MockPlatformClient{
		calls:         make(map[string]int),
		ClientIDValue: "test-client-id",
	}
}

var errNotConfigured = errors.New("mock: not configured")

func (m *MockPlatformClient) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
}

// Calls returns how many times method was invoked.
func (m *MockPlatformClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockPlatformClient) ExchangeAuthorizationCode(ctx context.Context, req driven.ExchangeRequest) (*driven.TokenResult, error) {
	m.record("ExchangeAuthorizationCode")
	if m.ExchangeFn == nil {
		return nil, errNotConfigured
	}
	return m.ExchangeFn(ctx, req)
}

func (m *MockPlatformClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*driven.TokenResult, error) {
	m.record("RefreshAccessToken")
	if m.RefreshFn == nil {
		return nil, errNotConfigured
	}
	return m.RefreshFn(ctx, refreshToken)
}

func (m *MockPlatformClient) IdentifyCaller(ctx context.Context, accessToken string) driven.Identity {
	m.record("IdentifyCaller")
	if m.IdentifyFn == nil {
		return driven.Identity{}
	}
	return m.IdentifyFn(ctx, accessToken)
}

func (m *MockPlatformClient) ListInstalledSubAccounts(ctx context.Context, accessToken, agencyID string) ([]domain.SubAccountSnapshot, error) {
	m.record("ListInstalledSubAccounts")
	if m.ListInstalledFn == nil {
		return nil, errNotConfigured
	}
	return m.ListInstalledFn(ctx, accessToken, agencyID)
}

func (m *MockPlatformClient) ListSubAccounts(ctx context.Context, accessToken, agencyID string, page, pageSize int) (driven.SubAccountPage, error) {
	m.record("ListSubAccounts")
	if m.ListSubAccountFn == nil {
		return driven.SubAccountPage{}, errNotConfigured
	}
	return m.ListSubAccountFn(ctx, accessToken, agencyID, page, pageSize)
}

func (m *MockPlatformClient) MintSubAccountToken(ctx context.Context, agencyAccessToken, agencyID, subAccountID string) (*driven.TokenResult, error) {
	m.record("MintSubAccountToken")
	if m.MintFn == nil {
		return nil, errNotConfigured
	}
	return m.MintFn(ctx, agencyAccessToken, agencyID, subAccountID)
}

func (m *MockPlatformClient) ClientID() string {
	return m.ClientIDValue
}
