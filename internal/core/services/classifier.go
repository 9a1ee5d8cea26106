package services

import (
	"context"
	"strings"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// IdentityProbe asks the provider who a token belongs to.
type IdentityProbe func(ctx context.Context) driven.Identity

// Classification is the resolved target of an install.
type Classification struct {
	ScopeKind    domain.ScopeKind
	AgencyID     string
	SubAccountID string
	TenantKey    string

	// Probed is true when the identity probe was consulted.
	Probed bool
}

// Classify decides whether a token belongs to an agency or a sub-account.
//
// Ids embedded in the token response win. The probe runs at most once, and
// only when the token carries neither id. A known sub-account id always
// means sub-account scope. With no id at all it returns
// domain.ErrIdentityAmbiguous.
func Classify(ctx context.Context, tok *driven.TokenResult, probe IdentityProbe) (*Classification, error) {
	c := &Classification{}
	if tok != nil {
		c.AgencyID = strings.TrimSpace(tok.CompanyID)
		c.SubAccountID = strings.TrimSpace(tok.LocationID)
	}

	if c.AgencyID == "" && c.SubAccountID == "" && probe != nil {
		id := probe(ctx)
		c.Probed = true
		c.AgencyID = strings.TrimSpace(id.AgencyID)
		c.SubAccountID = strings.TrimSpace(id.SubAccountID)
	}

	switch {
	case c.SubAccountID != "":
		c.ScopeKind = domain.ScopeSubAccount
		c.TenantKey = domain.SubAccountTenantKey(c.SubAccountID)
	case c.AgencyID != "":
		c.ScopeKind = domain.ScopeAgency
		c.TenantKey = domain.AgencyTenantKey(c.AgencyID)
	default:
		return nil, domain.ErrIdentityAmbiguous
	}
	return c, nil
}

// Patch builds the install patch for a classified token.
func (c *Classification) Patch(tokens *domain.TokenSet) domain.InstallPatch {
	patch := domain.InstallPatch{
		ScopeKind: domain.Ptr(c.ScopeKind),
		Tokens:    tokens,
	}
	if c.AgencyID != "" {
		patch.AgencyID = domain.Ptr(c.AgencyID)
	}
	if c.SubAccountID != "" {
		patch.SubAccountID = domain.Ptr(c.SubAccountID)
	}
	if tokens != nil {
		patch.Scopes = domain.ParseScopes(tokens.RawScope)
	}
	return patch
}

// tokenSetFrom converts a token endpoint result into a persisted token set.
// previousRefresh is kept when the response carries no refresh token.
func tokenSetFrom(tok *driven.TokenResult, previousRefresh string, savedAt time.Time) *domain.TokenSet {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresIn:    tok.ExpiresIn,
		RawScope:     tok.Scope,
		SavedAt:      savedAt,
	}
}
