package driven

import (
	"context"
	"strings"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// TokenResult is a token endpoint response, normalized across grant types.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Scope        string

	// CompanyID and LocationID are embedded by the provider when it knows
	// which agency or sub-account the token was issued for.
	CompanyID  string
	LocationID string
	UserType   string
}

// ExchangeRequest carries the inputs of an authorization code exchange.
type ExchangeRequest struct {
	Code        string
	RedirectURI string

	// UserType only shapes the outgoing request; it never overrides the ids
	// the provider returns.
	UserType domain.UserType
}

// Identity is the result of the "who am I" probe. Both fields may be empty.
type Identity struct {
	AgencyID     string
	SubAccountID string
}

// IsEmpty reports whether the probe found no ids.
func (i Identity) IsEmpty() bool {
	return strings.TrimSpace(i.AgencyID) == "" && strings.TrimSpace(i.SubAccountID) == ""
}

// PlatformClient talks to the provider's OAuth and sub-account APIs.
type PlatformClient interface {
	// ExchangeAuthorizationCode trades a single-use code for tokens.
	// Fails with *domain.UpstreamTokenError on a non-2xx response.
	ExchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (*TokenResult, error)

	// RefreshAccessToken trades a refresh token for new tokens.
	// Fails with *domain.UpstreamTokenError on a non-2xx response.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResult, error)

	// IdentifyCaller probes the identity endpoint. It never fails; an
	// unreadable or unauthorized response yields an empty Identity.
	IdentifyCaller(ctx context.Context, accessToken string) Identity

	// ListInstalledSubAccounts returns sub-accounts with the app installed.
	ListInstalledSubAccounts(ctx context.Context, accessToken, agencyID string) ([]domain.SubAccountSnapshot, error)

	// ListSubAccounts returns one page (1-based) of the agency's sub-accounts.
	ListSubAccounts(ctx context.Context, accessToken, agencyID string, page, pageSize int) (SubAccountPage, error)

	// MintSubAccountToken derives a sub-account token from an agency token.
	// A rejected agency token fails with an error matching domain.ErrUnauthorized.
	MintSubAccountToken(ctx context.Context, agencyAccessToken, agencyID, subAccountID string) (*TokenResult, error)

	// ClientID returns the OAuth client id the client authenticates as.
	ClientID() string
}

// SubAccountPage is one page of a sub-account listing. Listed counts every
// entry the provider returned, including ones skipped for lacking an id, so
// callers can detect the last page.
type SubAccountPage struct {
	SubAccounts []domain.SubAccountSnapshot
	Listed      int
}
