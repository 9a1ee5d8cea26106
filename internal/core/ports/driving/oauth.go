package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// InstallService handles the provider install flow and administrative access
// to the resulting install records.
type InstallService interface {
	// Authorize starts an install flow.
	// Returns an authorization URL to redirect the user to.
	// The state parameter is stored for CSRF validation during callback.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// Callback handles the redirect from the provider: it exchanges the code,
	// classifies the install, persists it, and for agency installs runs
	// sub-account discovery.
	Callback(ctx context.Context, req CallbackRequest) (*CallbackResponse, error)

	// GetInstall returns the install stored under tenantKey.
	GetInstall(ctx context.Context, tenantKey string) (*domain.InstallSummary, error)

	// GetAgencyInstall returns the agency install for companyID. An empty
	// companyID returns an arbitrary agency install.
	GetAgencyInstall(ctx context.Context, companyID string) (*domain.InstallSummary, error)

	// RefreshTenant forces a refresh-token exchange for tenantKey.
	RefreshTenant(ctx context.Context, tenantKey string) (*domain.InstallSummary, error)

	// ResolveUserContext decrypts an SSO payload and finds the matching install.
	ResolveUserContext(ctx context.Context, encrypted string) (*UserContextResponse, error)

	// InstalledStatus reports whether the app is installed for a sub-account,
	// or for an agency when no sub-account is given. Lookup misses are not
	// errors; they report not installed.
	InstalledStatus(ctx context.Context, q InstalledQuery) (*domain.InstallStatus, error)

	// SubAccountAccessToken exchanges the sub-account's refresh token and
	// returns the new short-lived access token.
	SubAccountAccessToken(ctx context.Context, subAccountID string) (*AccessTokenResponse, error)
}

// InstalledQuery identifies the install to check. SubAccountID wins when both
// are set.
type InstalledQuery struct {
	SubAccountID string
	AgencyID     string
}

// AccessTokenResponse carries a freshly refreshed sub-account access token.
// @Description Short-lived sub-account access token
type AccessTokenResponse struct {
	AccessToken string     `json:"access_token" example:"eyJhbGciOi..."`
	Scope       string     `json:"scope" example:"locations.readonly contacts.readonly"`
	ExpiresIn   int        `json:"expires_in,omitempty" example:"86399"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// DiscoveryService enumerates an agency's sub-accounts and mints tokens for them.
type DiscoveryService interface {
	// DiscoverAndMint is idempotent: re-running it overwrites the same
	// sub-account records.
	DiscoverAndMint(ctx context.Context, agencyID string) (*domain.DiscoveryResult, error)
}

// AuthorizeRequest represents a request to start an install flow.
// @Description Request to start an install flow
type AuthorizeRequest struct {
	// UserType is the install target hint ("Company" or "Location").
	UserType domain.UserType `json:"user_type,omitempty" example:"Company"`

	// ReturnTo is where the browser goes after the callback succeeds.
	ReturnTo string `json:"return_to,omitempty" example:"/settings/integrations"`
}

// AuthorizeResponse contains the authorization URL and state.
// @Description Response containing the provider authorization URL
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url" example:"https://marketplace.example.com/oauth/authorize?client_id=..."`
	State            string `json:"state" example:"abc123xyz"`
	ExpiresAt        string `json:"expires_at" example:"2024-01-15T10:10:00Z"`
}

// CallbackRequest represents the redirect from the provider.
// @Description Install callback parameters from provider redirect
type CallbackRequest struct {
	Code     string          `json:"code" example:"abc123"`
	State    string          `json:"state" example:"abc123xyz"`
	UserType domain.UserType `json:"user_type,omitempty" example:"Location"`

	// Error is set if the provider returned an error.
	Error            string `json:"error,omitempty" example:"access_denied"`
	ErrorDescription string `json:"error_description,omitempty" example:"The user denied access"`
}

// CallbackResponse contains the result of the callback.
// @Description Response after a successful install
type CallbackResponse struct {
	Install   *domain.InstallSummary  `json:"install"`
	Discovery *domain.DiscoveryResult `json:"discovery,omitempty"`

	// DiscoveryError is set when the install was saved but discovery failed.
	DiscoveryError string `json:"discovery_error,omitempty"`

	ReturnTo string `json:"return_to,omitempty"`
	Message  string `json:"message" example:"Agency C1 installed; 3 of 3 sub-accounts connected"`
}

// UserContextResponse pairs a decrypted SSO context with its install.
// @Description Decrypted SSO context and matching install
type UserContextResponse struct {
	Context *domain.UserContext    `json:"context"`
	Install *domain.InstallSummary `json:"install,omitempty"`
}

// OAuthError represents an install-flow error safe to show to the caller.
type OAuthError struct {
	Code        string `json:"error" example:"invalid_state"`
	Description string `json:"error_description" example:"The state parameter is invalid or expired"`

	// Err is the underlying cause, kept for errors.Is/As.
	Err error `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// Common install-flow errors
var (
	ErrOAuthInvalidState = &OAuthError{Code: "invalid_state", Description: "The state parameter is invalid or expired"}
	ErrOAuthMissingCode  = &OAuthError{Code: "missing_code", Description: "The authorization code is missing"}
)
