package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	_ "github.com/custodia-labs/agencylink/docs"
	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
)

// Mock services for testing

type mockInstallService struct {
	authorizeFn      func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error)
	callbackFn       func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error)
	getInstallFn     func(ctx context.Context, tenantKey string) (*domain.InstallSummary, error)
	getAgencyFn      func(ctx context.Context, companyID string) (*domain.InstallSummary, error)
	refreshTenantFn  func(ctx context.Context, tenantKey string) (*domain.InstallSummary, error)
	resolveContextFn func(ctx context.Context, encrypted string) (*driving.UserContextResponse, error)
	installedFn      func(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error)
	accessTokenFn    func(ctx context.Context, subAccountID string) (*driving.AccessTokenResponse, error)
}

func (m *mockInstallService) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) GetInstall(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
	if m.getInstallFn != nil {
		return m.getInstallFn(ctx, tenantKey)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) GetAgencyInstall(ctx context.Context, companyID string) (*domain.InstallSummary, error) {
	if m.getAgencyFn != nil {
		return m.getAgencyFn(ctx, companyID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) RefreshTenant(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
	if m.refreshTenantFn != nil {
		return m.refreshTenantFn(ctx, tenantKey)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) ResolveUserContext(ctx context.Context, encrypted string) (*driving.UserContextResponse, error) {
	if m.resolveContextFn != nil {
		return m.resolveContextFn(ctx, encrypted)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) InstalledStatus(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error) {
	if m.installedFn != nil {
		return m.installedFn(ctx, q)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInstallService) SubAccountAccessToken(ctx context.Context, subAccountID string) (*driving.AccessTokenResponse, error) {
	if m.accessTokenFn != nil {
		return m.accessTokenFn(ctx, subAccountID)
	}
	return nil, errors.New("not implemented")
}

type mockDiscoveryService struct {
	discoverFn func(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error)
}

func (m *mockDiscoveryService) DiscoverAndMint(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error) {
	if m.discoverFn != nil {
		return m.discoverFn(ctx, agencyID)
	}
	return nil, errors.New("not implemented")
}

// mockAuthAdapter accepts "good" and reports "old" as expired.
type mockAuthAdapter struct{}

func (mockAuthAdapter) GenerateToken(claims *domain.AdminClaims) (string, error) {
	return "good", nil
}

func (mockAuthAdapter) ParseToken(token string) (*domain.AdminClaims, error) {
	switch token {
	case "good":
		return &domain.AdminClaims{Subject: "ops", ExpiresAt: 4102444800}, nil
	case "old":
		return nil, domain.ErrTokenExpired
	default:
		return nil, domain.ErrTokenInvalid
	}
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

func newTestServer(install *mockInstallService, discovery *mockDiscoveryService) *Server {
	if install == nil {
		install = &mockInstallService{}
	}
	if discovery == nil {
		discovery = &mockDiscoveryService{}
	}
	return NewServer(DefaultConfig(), install, discovery, mockAuthAdapter{}, mockPinger{}, nil)
}

func serve(s *Server, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

var adminHeader = map[string]string{"Authorization": "Bearer good"}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v (body %q)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestHandleReady(t *testing.T) {
	s := NewServer(DefaultConfig(), &mockInstallService{}, &mockDiscoveryService{}, mockAuthAdapter{},
		mockPinger{}, mockPinger{err: errors.New("redis down")})

	rec := serve(s, "GET", "/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp ReadyResponse
	decodeBody(t, rec, &resp)
	if resp.Checks["store"] != "ok" || resp.Checks["lock"] != "redis down" {
		t.Errorf("unexpected checks: %v", resp.Checks)
	}
}

func TestHandleVersion(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "GET", "/version", nil, nil)
	var resp VersionResponse
	decodeBody(t, rec, &resp)
	if resp.Version != "dev" {
		t.Errorf("expected dev, got %q", resp.Version)
	}
}

func TestHandleMetrics(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "GET", "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAuthorize_Redirects(t *testing.T) {
	var got driving.AuthorizeRequest
	s := newTestServer(&mockInstallService{
		authorizeFn: func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
			got = req
			return &driving.AuthorizeResponse{AuthorizationURL: "https://provider.example.com/choose?state=s1", State: "s1"}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/authorize?user_type=company&returnTo=/done", nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://provider.example.com/choose?state=s1" {
		t.Errorf("unexpected location %q", loc)
	}
	if got.UserType != domain.UserTypeCompany || got.ReturnTo != "/done" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestHandleAuthorize_JSON(t *testing.T) {
	s := newTestServer(&mockInstallService{
		authorizeFn: func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
			return &driving.AuthorizeResponse{AuthorizationURL: "https://p/x", State: "s1"}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/authorize", nil, map[string]string{"Accept": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp driving.AuthorizeResponse
	decodeBody(t, rec, &resp)
	if resp.State != "s1" {
		t.Errorf("expected state s1, got %q", resp.State)
	}
}

func TestHandleAuthorize_RejectsOpenRedirect(t *testing.T) {
	s := newTestServer(nil, nil)
	for _, target := range []string{"https://evil.example.com", "//evil.example.com", "/\\evil.example.com"} {
		rec := serve(s, "GET", "/oauth/authorize?returnTo="+url.QueryEscape(target), nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestHandleAuthorize_AllowsProviderCustomPage(t *testing.T) {
	var got driving.AuthorizeRequest
	s := newTestServer(&mockInstallService{
		authorizeFn: func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
			got = req
			return &driving.AuthorizeResponse{AuthorizationURL: "https://provider.example.com/oauth/authorize?state=s1", State: "s1"}, nil
		},
	}, nil)

	target := "https://app.gohighlevel.com/custom-page-link/abc123"
	rec := serve(s, "GET", "/oauth/authorize?returnTo="+url.QueryEscape(target), nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.ReturnTo != target {
		t.Errorf("expected returnTo %q, got %q", target, got.ReturnTo)
	}
}

func TestHandleAuthorize_ReturnToAllowListConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReturnToAllowed = []string{".example.org/apps/"}
	install := &mockInstallService{
		authorizeFn: func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
			return &driving.AuthorizeResponse{AuthorizationURL: "https://provider.example.com/oauth/authorize", State: "s1"}, nil
		},
	}
	s := NewServer(cfg, install, &mockDiscoveryService{}, mockAuthAdapter{}, mockPinger{}, nil)

	tests := map[string]int{
		"https://portal.example.org/apps/one":                 http.StatusFound,
		"https://example.org/apps/":                           http.StatusFound,
		"https://example.org/other":                           http.StatusBadRequest,
		"https://app.gohighlevel.com/custom-page-link/abc123": http.StatusBadRequest,
	}
	for target, want := range tests {
		rec := serve(s, "GET", "/oauth/authorize?returnTo="+url.QueryEscape(target), nil, nil)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", target, want, rec.Code)
		}
	}
}

func TestHandleCallback_JSON(t *testing.T) {
	var got driving.CallbackRequest
	s := newTestServer(&mockInstallService{
		callbackFn: func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
			got = req
			return &driving.CallbackResponse{
				Install:   &domain.InstallSummary{TenantKey: "agency_C1", ScopeKind: domain.ScopeAgency, AgencyID: "C1"},
				Discovery: &domain.DiscoveryResult{AgencyID: "C1", Found: 3, Minted: 2, MintedIDs: []string{"A", "C"}},
			}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/callback?code=c1&state=s1&user_type=Location", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Code != "c1" || got.State != "s1" || got.UserType != domain.UserTypeLocation {
		t.Errorf("unexpected request %+v", got)
	}
	var resp driving.CallbackResponse
	decodeBody(t, rec, &resp)
	if resp.Install.TenantKey != "agency_C1" || resp.Discovery.Minted != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleCallback_RedirectsToReturnTo(t *testing.T) {
	s := newTestServer(&mockInstallService{
		callbackFn: func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
			return &driving.CallbackResponse{
				Install:  &domain.InstallSummary{TenantKey: "location_L9", ScopeKind: domain.ScopeSubAccount},
				ReturnTo: "/settings?tab=apps",
			}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/callback?code=c1&state=s1", nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != "/settings" || loc.Query().Get("tab") != "apps" || loc.Query().Get("tenant_key") != "location_L9" {
		t.Errorf("unexpected location %q", loc)
	}
}

func TestHandleCallback_RedirectsToProviderPage(t *testing.T) {
	s := newTestServer(&mockInstallService{
		callbackFn: func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
			return &driving.CallbackResponse{
				Install:  &domain.InstallSummary{TenantKey: "agency_C1", ScopeKind: domain.ScopeAgency},
				ReturnTo: "https://app.gohighlevel.com/custom-page-link/abc123",
			}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/callback?code=c1&state=s1", nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "app.gohighlevel.com" || loc.Query().Get("tenant_key") != "agency_C1" {
		t.Errorf("unexpected location %q", loc)
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid state", driving.ErrOAuthInvalidState, http.StatusBadRequest, "invalid_state"},
		{"missing code", driving.ErrOAuthMissingCode, http.StatusBadRequest, "missing_code"},
		{"provider denied", &driving.OAuthError{Code: "access_denied"}, http.StatusBadRequest, "access_denied"},
		{
			"exchange rejected",
			&driving.OAuthError{Code: "exchange_failed", Err: domain.NewUpstreamTokenError(401, []byte(`{"error":"invalid_client"}`))},
			http.StatusBadGateway, "exchange_failed",
		},
		{
			"ambiguous",
			&driving.OAuthError{Code: "identity_ambiguous", Err: domain.ErrIdentityAmbiguous},
			http.StatusUnprocessableEntity, "identity_ambiguous",
		},
		{"store down", domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "store unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockInstallService{
				callbackFn: func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
					return nil, tt.err
				},
			}, nil)

			rec := serve(s, "GET", "/oauth/callback?code=c&state=s", nil, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var resp map[string]any
			decodeBody(t, rec, &resp)
			if resp["error"] != tt.wantCode {
				t.Errorf("expected error %q, got %v", tt.wantCode, resp["error"])
			}
		})
	}
}

func TestHandleCallback_UpstreamStatusExposed(t *testing.T) {
	s := newTestServer(&mockInstallService{
		callbackFn: func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
			upstream := domain.NewUpstreamTokenError(400, []byte(`{"error":"invalid_grant","error_description":"redirect_uri mismatch"}`))
			return nil, &driving.OAuthError{Code: "exchange_failed", Description: upstream.Error(), Err: upstream}
		},
	}, nil)

	rec := serve(s, "GET", "/oauth/callback?code=c&state=s", nil, nil)
	var resp OAuthErrorResponse
	decodeBody(t, rec, &resp)
	if resp.UpstreamStatus != 400 || !strings.Contains(resp.ErrorDescription, "redirect_uri mismatch") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleResolveUserContext(t *testing.T) {
	s := newTestServer(&mockInstallService{
		resolveContextFn: func(ctx context.Context, encrypted string) (*driving.UserContextResponse, error) {
			if encrypted != "blob" {
				return nil, domain.ErrInvalidInput
			}
			return &driving.UserContextResponse{
				Context: &domain.UserContext{ActiveLocationID: "L9"},
				Install: &domain.InstallSummary{TenantKey: "location_L9"},
			}, nil
		},
	}, nil)

	rec := serve(s, "POST", "/api/v1/sso/context", []byte(`{"encrypted":"blob"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(s, "POST", "/api/v1/sso/context", []byte(`{"encrypted":"other"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = serve(s, "POST", "/api/v1/sso/context", []byte(`not json`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	s := newTestServer(nil, nil)
	routes := []struct{ method, path string }{
		{"POST", "/api/v1/agencies/discover?companyId=C1"},
		{"GET", "/api/v1/agency"},
		{"GET", "/api/v1/installs/agency_C1"},
		{"POST", "/api/v1/installs/agency_C1/refresh"},
		{"GET", "/api/v1/tokens/location?locationId=L1"},
	}
	for _, rt := range routes {
		rec := serve(s, rt.method, rt.path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", rt.method, rt.path, rec.Code)
		}
		rec = serve(s, rt.method, rt.path, nil, map[string]string{"Authorization": "Bearer old"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s (expired): expected 401, got %d", rt.method, rt.path, rec.Code)
		}
	}
}

func TestHandleDiscover(t *testing.T) {
	var gotAgency string
	s := newTestServer(nil, &mockDiscoveryService{
		discoverFn: func(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error) {
			gotAgency = agencyID
			return &domain.DiscoveryResult{AgencyID: agencyID, Found: 5, Minted: 3}, nil
		},
	})

	rec := serve(s, "POST", "/api/v1/agencies/discover?companyId=C1", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotAgency != "C1" {
		t.Errorf("expected C1, got %q", gotAgency)
	}
	var resp domain.DiscoveryResult
	decodeBody(t, rec, &resp)
	if resp.Found != 5 || resp.Minted != 3 {
		t.Errorf("unexpected result %+v", resp)
	}
}

func TestHandleDiscover_FallsBackToAnyAgency(t *testing.T) {
	var gotAgency string
	s := newTestServer(&mockInstallService{
		getAgencyFn: func(ctx context.Context, companyID string) (*domain.InstallSummary, error) {
			if companyID != "" {
				t.Errorf("expected empty company id, got %q", companyID)
			}
			return &domain.InstallSummary{TenantKey: "agency_C7", AgencyID: "C7"}, nil
		},
	}, &mockDiscoveryService{
		discoverFn: func(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error) {
			gotAgency = agencyID
			return &domain.DiscoveryResult{AgencyID: agencyID}, nil
		},
	})

	rec := serve(s, "POST", "/api/v1/agencies/discover", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotAgency != "C7" {
		t.Errorf("expected C7, got %q", gotAgency)
	}
}

func TestHandleDiscover_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"in progress", domain.ErrDiscoveryInProgress, http.StatusConflict},
		{"unknown agency", domain.ErrNotFound, http.StatusNotFound},
		{"store down", domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil, &mockDiscoveryService{
				discoverFn: func(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error) {
					return nil, tt.err
				},
			})
			rec := serve(s, "POST", "/api/v1/agencies/discover?companyId=C1", nil, adminHeader)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestHandleGetInstall(t *testing.T) {
	s := newTestServer(&mockInstallService{
		getInstallFn: func(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
			if tenantKey != "location_L9" {
				return nil, domain.ErrNotFound
			}
			return &domain.InstallSummary{TenantKey: tenantKey, HasRefreshToken: true}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/api/v1/installs/location_L9", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "access_token") {
		t.Error("summary must not carry token values")
	}

	rec = serve(s, "GET", "/api/v1/installs/location_X", nil, adminHeader)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetAgencyInstall(t *testing.T) {
	var got string
	s := newTestServer(&mockInstallService{
		getAgencyFn: func(ctx context.Context, companyID string) (*domain.InstallSummary, error) {
			got = companyID
			return &domain.InstallSummary{TenantKey: "agency_" + companyID}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/api/v1/agency?companyId=C1", nil, adminHeader)
	if rec.Code != http.StatusOK || got != "C1" {
		t.Errorf("expected 200 for C1, got %d for %q", rec.Code, got)
	}
}

func TestHandleRefreshInstall(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"no refresh token", domain.ErrNoRefreshToken, http.StatusConflict},
		{"revoked", domain.NewUpstreamTokenError(400, []byte("invalid_grant")), http.StatusBadGateway},
		{"missing", domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockInstallService{
				refreshTenantFn: func(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &domain.InstallSummary{TenantKey: tenantKey}, nil
				},
			}, nil)
			rec := serve(s, "POST", "/api/v1/installs/agency_C1/refresh", nil, adminHeader)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestHandleInstalled_Aliases(t *testing.T) {
	tests := []struct {
		query string
		want  driving.InstalledQuery
	}{
		{"location_id=L1", driving.InstalledQuery{SubAccountID: "L1"}},
		{"locationId=L1", driving.InstalledQuery{SubAccountID: "L1"}},
		{"location=L1", driving.InstalledQuery{SubAccountID: "L1"}},
		{"subAccountId=L1", driving.InstalledQuery{SubAccountID: "L1"}},
		{"accountId=L1", driving.InstalledQuery{SubAccountID: "L1"}},
		{"agency_id=C1", driving.InstalledQuery{AgencyID: "C1"}},
		{"agencyId=C1", driving.InstalledQuery{AgencyID: "C1"}},
		{"companyId=C1", driving.InstalledQuery{AgencyID: "C1"}},
		{"location_id=+&locationId=L2&companyId=C1", driving.InstalledQuery{SubAccountID: "L2", AgencyID: "C1"}},
		{"", driving.InstalledQuery{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got driving.InstalledQuery
			s := newTestServer(&mockInstallService{
				installedFn: func(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error) {
					got = q
					return &domain.InstallStatus{}, nil
				},
			}, nil)
			rec := serve(s, "GET", "/api/v1/installed?"+tt.query, nil, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if got != tt.want {
				t.Errorf("expected query %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestHandleInstalled(t *testing.T) {
	s := newTestServer(&mockInstallService{
		installedFn: func(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error) {
			return &domain.InstallStatus{Installed: true, AgencyID: "C1", SubAccountID: q.SubAccountID}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/api/v1/installed?locationId=L1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", got)
	}
	if got := rec.Header().Get("X-Robots-Tag"); got != "noindex" {
		t.Errorf("expected X-Robots-Tag noindex, got %q", got)
	}

	var body domain.InstallStatus
	decodeBody(t, rec, &body)
	if body != (domain.InstallStatus{Installed: true, AgencyID: "C1", SubAccountID: "L1"}) {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandleInstalled_StoreDown(t *testing.T) {
	s := newTestServer(&mockInstallService{
		installedFn: func(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error) {
			return nil, domain.ErrStoreUnavailable
		},
	}, nil)
	rec := serve(s, "GET", "/api/v1/installed?companyId=C1", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandleSubAccountToken(t *testing.T) {
	var gotID string
	s := newTestServer(&mockInstallService{
		accessTokenFn: func(ctx context.Context, subAccountID string) (*driving.AccessTokenResponse, error) {
			gotID = subAccountID
			return &driving.AccessTokenResponse{AccessToken: "la_new", Scope: "contacts.readonly", ExpiresIn: 86399}, nil
		},
	}, nil)

	rec := serve(s, "GET", "/api/v1/tokens/location?locationId=L1", nil, adminHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != "L1" {
		t.Errorf("expected sub-account L1, got %q", gotID)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", got)
	}

	var body driving.AccessTokenResponse
	decodeBody(t, rec, &body)
	if body.AccessToken != "la_new" || body.Scope != "contacts.readonly" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandleSubAccountToken_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
	}{
		{"missing id", "", nil, http.StatusBadRequest},
		{"unknown sub-account", "locationId=L404", domain.ErrNotFound, http.StatusNotFound},
		{"no refresh token", "locationId=L1", domain.ErrNoRefreshToken, http.StatusConflict},
		{"exchange rejected", "locationId=L1", domain.NewUpstreamTokenError(400, []byte("invalid_grant")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			s := newTestServer(&mockInstallService{
				accessTokenFn: func(ctx context.Context, subAccountID string) (*driving.AccessTokenResponse, error) {
					called = true
					return nil, tt.err
				},
			}, nil)
			rec := serve(s, "GET", "/api/v1/tokens/location?"+tt.query, nil, adminHeader)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("expected Cache-Control no-store, got %q", got)
			}
			if called != (tt.err != nil) {
				t.Errorf("service called = %v", called)
			}
		})
	}
}

func TestHandleOpenAPI(t *testing.T) {
	rec := serve(newTestServer(nil, nil), "GET", "/swagger/doc.json", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "AgencyLink API") {
		t.Error("expected the registered document")
	}
}
