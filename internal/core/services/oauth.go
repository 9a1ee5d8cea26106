package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
	"github.com/custodia-labs/agencylink/internal/metrics"
)

// Ensure installService implements InstallService
var _ driving.InstallService = (*installService)(nil)

const (
	stateTTL     = 10 * time.Minute
	callbackPath = "/oauth/callback"
)

// InstallServiceConfig holds configuration for the install service.
type InstallServiceConfig struct {
	Store      driven.TokenStore
	StateStore driven.OAuthStateStore
	Platform   driven.PlatformClient

	// Discovery runs after agency installs. Optional.
	Discovery driving.DiscoveryService

	// Coordinator performs forced refreshes. Built from Store and Platform
	// when nil.
	Coordinator *RefreshCoordinator

	// Decrypter opens SSO payloads. ResolveUserContext fails without it.
	Decrypter driven.UserContextDecrypter

	Logger *slog.Logger

	// BaseURL is the public base URL used to build the callback URL.
	// Example: "https://agencylink.example.com"
	BaseURL string

	// AuthorizeURL is the provider's consent page.
	AuthorizeURL string

	// Scopes requested at authorization time.
	Scopes []string

	// Now is the clock used for SavedAt and state expiry. Defaults to time.Now.
	Now func() time.Time
}

// installService implements the InstallService interface.
type installService struct {
	store        driven.TokenStore
	stateStore   driven.OAuthStateStore
	platform     driven.PlatformClient
	discovery    driving.DiscoveryService
	coordinator  *RefreshCoordinator
	decrypter    driven.UserContextDecrypter
	logger       *slog.Logger
	baseURL      string
	authorizeURL string
	scopes       []string
	now          func() time.Time
}

// NewInstallService creates a new install service.
func NewInstallService(cfg InstallServiceConfig) driving.InstallService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = NewRefreshCoordinator(RefreshCoordinatorConfig{
			Store:    cfg.Store,
			Platform: cfg.Platform,
			Logger:   logger,
			Now:      now,
		})
	}
	return &installService{
		store:        cfg.Store,
		stateStore:   cfg.StateStore,
		platform:     cfg.Platform,
		discovery:    cfg.Discovery,
		coordinator:  coordinator,
		decrypter:    cfg.Decrypter,
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authorizeURL: cfg.AuthorizeURL,
		scopes:       cfg.Scopes,
		now:          now,
	}
}

// Authorize starts an install flow.
// It stores a single-use state and returns the provider consent URL.
func (s *installService) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if s.authorizeURL == "" {
		return nil, fmt.Errorf("%w: authorize url not configured", domain.ErrServiceUnavailable)
	}

	state, err := generateRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	redirectURI := s.baseURL + callbackPath
	now := s.now()
	expiresAt := now.Add(stateTTL)
	oauthState := &driven.OAuthState{
		State:       state,
		UserType:    req.UserType,
		ReturnTo:    req.ReturnTo,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.stateStore.Save(ctx, oauthState); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}

	authURL, err := buildAuthorizeURL(s.authorizeURL, s.platform.ClientID(), redirectURI, s.scopes, state)
	if err != nil {
		return nil, fmt.Errorf("build authorize url: %w", err)
	}

	return &driving.AuthorizeResponse{
		AuthorizationURL: authURL,
		State:            state,
		ExpiresAt:        expiresAt.Format(time.RFC3339),
	}, nil
}

// Callback handles the redirect from the provider.
// It validates state, exchanges the code, classifies and stores the install,
// and runs discovery for agency installs.
func (s *installService) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	if req.Error != "" {
		return nil, &driving.OAuthError{
			Code:        req.Error,
			Description: req.ErrorDescription,
		}
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, driving.ErrOAuthMissingCode
	}

	oauthState, err := s.stateStore.GetAndDelete(ctx, req.State)
	if err != nil {
		return nil, fmt.Errorf("get oauth state: %w", err)
	}
	if oauthState == nil {
		return nil, driving.ErrOAuthInvalidState
	}

	hint := req.UserType
	if hint == "" {
		hint = oauthState.UserType
	}
	redirectURI := oauthState.RedirectURI
	if redirectURI == "" {
		redirectURI = s.baseURL + callbackPath
	}

	summary, err := s.install(ctx, req.Code, redirectURI, hint)
	if err != nil {
		return nil, err
	}

	resp := &driving.CallbackResponse{
		Install:  summary,
		ReturnTo: oauthState.ReturnTo,
	}
	if summary.ScopeKind != domain.ScopeAgency || summary.AgencyID == "" || s.discovery == nil {
		resp.Message = installMessage(summary, nil)
		return resp, nil
	}

	result, err := s.discovery.DiscoverAndMint(ctx, summary.AgencyID)
	resp.Discovery = result
	if err != nil {
		s.logger.Warn("discovery after install failed", "agency_id", summary.AgencyID, "error", err)
		resp.DiscoveryError = err.Error()
	}
	resp.Message = installMessage(summary, result)
	return resp, nil
}

// install exchanges the code and persists the classified record.
func (s *installService) install(ctx context.Context, code, redirectURI string, hint domain.UserType) (*domain.InstallSummary, error) {
	tok, err := s.platform.ExchangeAuthorizationCode(ctx, driven.ExchangeRequest{
		Code:        code,
		RedirectURI: redirectURI,
		UserType:    hint,
	})
	metrics.ObserveTokenExchange(err)
	if err != nil {
		s.logger.Warn("authorization code exchange failed", "error", err)
		return nil, &driving.OAuthError{
			Code:        "exchange_failed",
			Description: err.Error(),
			Err:         err,
		}
	}

	probe := func(ctx context.Context) driven.Identity {
		return s.platform.IdentifyCaller(ctx, tok.AccessToken)
	}
	class, err := Classify(ctx, tok, probe)
	if errors.Is(err, domain.ErrIdentityAmbiguous) && hint == domain.UserTypeCompany {
		key := domain.ClientFallbackTenantKey(s.platform.ClientID())
		s.logger.Warn("no agency id resolved, using client fallback key", "tenant_key", key)
		class, err = &Classification{ScopeKind: domain.ScopeAgency, TenantKey: key}, nil
	}
	if err != nil {
		return nil, &driving.OAuthError{
			Code:        "identity_ambiguous",
			Description: "The token identifies neither an agency nor a sub-account",
			Err:         err,
		}
	}

	tokens := tokenSetFrom(tok, "", s.now())
	if err := s.store.Upsert(ctx, class.TenantKey, class.Patch(tokens)); err != nil {
		return nil, fmt.Errorf("save install %s: %w", class.TenantKey, err)
	}
	metrics.ObserveInstall(string(class.ScopeKind))
	s.logger.Info("install saved",
		"tenant_key", class.TenantKey,
		"scope_kind", class.ScopeKind,
		"agency_id", class.AgencyID,
		"sub_account_id", class.SubAccountID,
		"probed", class.Probed)

	rec, err := s.store.GetByTenantKey(ctx, class.TenantKey)
	if err != nil {
		return nil, fmt.Errorf("reload install %s: %w", class.TenantKey, err)
	}
	return rec.ToSummary(), nil
}

// GetInstall returns the install stored under tenantKey.
func (s *installService) GetInstall(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
	tenantKey = strings.TrimSpace(tenantKey)
	if tenantKey == "" {
		return nil, fmt.Errorf("%w: tenant key is required", domain.ErrInvalidInput)
	}
	rec, err := s.store.GetByTenantKey(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return rec.ToSummary(), nil
}

// GetAgencyInstall returns the agency install for companyID, or an arbitrary
// agency install when companyID is empty.
func (s *installService) GetAgencyInstall(ctx context.Context, companyID string) (*domain.InstallSummary, error) {
	companyID = strings.TrimSpace(companyID)
	var (
		rec *domain.InstallRecord
		err error
	)
	if companyID == "" {
		rec, err = s.store.FindAnyAgencyInstall(ctx)
	} else {
		rec, err = s.store.GetByTenantKey(ctx, domain.AgencyTenantKey(companyID))
	}
	if err != nil {
		return nil, err
	}
	return rec.ToSummary(), nil
}

// RefreshTenant forces a refresh-token exchange for tenantKey.
func (s *installService) RefreshTenant(ctx context.Context, tenantKey string) (*domain.InstallSummary, error) {
	tenantKey = strings.TrimSpace(tenantKey)
	if tenantKey == "" {
		return nil, fmt.Errorf("%w: tenant key is required", domain.ErrInvalidInput)
	}
	rec, err := s.coordinator.Refresh(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return rec.ToSummary(), nil
}

// InstalledStatus reports whether the app is installed. A sub-account is
// installed when its record has tokens. An agency is installed when any of its
// sub-accounts has tokens, or failing that, when the agency record holds a
// refresh token.
func (s *installService) InstalledStatus(ctx context.Context, q driving.InstalledQuery) (*domain.InstallStatus, error) {
	subID := strings.TrimSpace(q.SubAccountID)
	agencyID := strings.TrimSpace(q.AgencyID)

	switch {
	case subID != "":
		rec, err := s.store.GetByTenantKey(ctx, domain.SubAccountTenantKey(subID))
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.InstallStatus{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load install for sub-account %s: %w", subID, err)
		}
		return &domain.InstallStatus{
			Installed:    rec.HasTokens(),
			AgencyID:     rec.AgencyID,
			SubAccountID: subID,
		}, nil

	case agencyID != "":
		rec, err := s.store.FindSubAccountInstall(ctx, agencyID)
		if err == nil && rec.HasTokens() {
			return &domain.InstallStatus{
				Installed:    true,
				AgencyID:     agencyID,
				SubAccountID: rec.SubAccountID,
			}, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("find sub-account install for agency %s: %w", agencyID, err)
		}

		agency, err := s.store.GetByTenantKey(ctx, domain.AgencyTenantKey(agencyID))
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.InstallStatus{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load agency install %s: %w", agencyID, err)
		}
		if agency.RefreshToken() == "" {
			return &domain.InstallStatus{}, nil
		}
		return &domain.InstallStatus{Installed: true, AgencyID: agencyID}, nil
	}
	return &domain.InstallStatus{}, nil
}

// SubAccountAccessToken refreshes the sub-account's tokens through the
// coordinator, so the rotated refresh token is persisted before the access
// token is handed out.
func (s *installService) SubAccountAccessToken(ctx context.Context, subAccountID string) (*driving.AccessTokenResponse, error) {
	subAccountID = strings.TrimSpace(subAccountID)
	if subAccountID == "" {
		return nil, fmt.Errorf("%w: sub-account id is required", domain.ErrInvalidInput)
	}
	rec, err := s.coordinator.Refresh(ctx, domain.SubAccountTenantKey(subAccountID))
	if err != nil {
		return nil, err
	}
	if rec.AccessToken() == "" {
		return nil, fmt.Errorf("sub-account %s: %w", subAccountID, domain.ErrNoAccessToken)
	}
	return &driving.AccessTokenResponse{
		AccessToken: rec.Tokens.AccessToken,
		Scope:       rec.Tokens.RawScope,
		ExpiresIn:   rec.Tokens.ExpiresIn,
		ExpiresAt:   rec.Tokens.ExpiresAt(),
	}, nil
}

// ResolveUserContext decrypts an SSO payload and looks up the most specific
// matching install. A context with no matching install is still returned.
func (s *installService) ResolveUserContext(ctx context.Context, encrypted string) (*driving.UserContextResponse, error) {
	if s.decrypter == nil {
		return nil, fmt.Errorf("%w: sso decryption not configured", domain.ErrServiceUnavailable)
	}
	if strings.TrimSpace(encrypted) == "" {
		return nil, fmt.Errorf("%w: encrypted payload is required", domain.ErrInvalidInput)
	}

	uc, err := s.decrypter.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt user context: %w", domain.ErrInvalidInput, err)
	}

	resp := &driving.UserContextResponse{Context: uc}
	for _, key := range uc.TenantKeys() {
		rec, err := s.store.GetByTenantKey(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load install %s: %w", key, err)
		}
		resp.Install = rec.ToSummary()
		break
	}
	return resp, nil
}

// buildAuthorizeURL appends the authorization request parameters to base,
// keeping any query it already has.
func buildAuthorizeURL(base, clientID, redirectURI string, scopes []string, state string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func installMessage(summary *domain.InstallSummary, result *domain.DiscoveryResult) string {
	switch summary.ScopeKind {
	case domain.ScopeSubAccount:
		return fmt.Sprintf("Sub-account %s installed", summary.SubAccountID)
	case domain.ScopeAgency:
		name := summary.AgencyID
		if name == "" {
			name = summary.TenantKey
		}
		if result == nil {
			return fmt.Sprintf("Agency %s installed", name)
		}
		return fmt.Sprintf("Agency %s installed; %d of %d sub-accounts connected", name, result.Minted, result.Found)
	default:
		return "Installed"
	}
}

// generateRandomString generates a cryptographically secure random string.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
