package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ScopeKind tells whether an install belongs to an agency or a sub-account.
type ScopeKind string

const (
	ScopeAgency     ScopeKind = "agency"
	ScopeSubAccount ScopeKind = "sub_account"
)

// UserType is the install target hint understood by the provider token endpoint.
type UserType string

const (
	UserTypeCompany  UserType = "Company"
	UserTypeLocation UserType = "Location"
)

// ParseUserType normalizes a user_type query value. Unknown values yield "".
func ParseUserType(s string) UserType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "company", "agency":
		return UserTypeCompany
	case "location", "sub_account", "subaccount":
		return UserTypeLocation
	default:
		return ""
	}
}

// Tenant key prefixes.
const (
	agencyKeyPrefix         = "agency_"
	agencyByClientKeyPrefix = "agency_byClient_"
	subAccountKeyPrefix     = "location_"
)

// AgencyTenantKey returns the storage key of an agency install.
func AgencyTenantKey(agencyID string) string {
	return agencyKeyPrefix + agencyID
}

// SubAccountTenantKey returns the storage key of a sub-account install.
func SubAccountTenantKey(subAccountID string) string {
	return subAccountKeyPrefix + subAccountID
}

// ClientFallbackTenantKey returns the degenerate agency key used when no agency
// id can be resolved. Every such install for one OAuth client shares the key.
func ClientFallbackTenantKey(clientID string) string {
	sum := sha256.Sum256([]byte(clientID))
	return agencyByClientKeyPrefix + hex.EncodeToString(sum[:])[:16]
}

// ParseScopes splits a space-delimited grant string. Order and duplicates are
// kept as given.
func ParseScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// TokenSet is the token material persisted for a tenant.
type TokenSet struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RawScope     string    `json:"scope,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// ExpiresAt returns when the access token expires, or nil when unknown.
func (t *TokenSet) ExpiresAt() *time.Time {
	if t == nil || t.ExpiresIn <= 0 || t.SavedAt.IsZero() {
		return nil
	}
	at := t.SavedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &at
}

// NeedsRefresh returns true if within 5 minutes of expiry.
func (t *TokenSet) NeedsRefresh() bool {
	at := t.ExpiresAt()
	if at == nil {
		return false
	}
	return time.Until(*at) < 5*time.Minute
}

// InstallRecord is the persisted unit of tenancy.
type InstallRecord struct {
	TenantKey      string    `json:"tenant_key"`
	ScopeKind      ScopeKind `json:"scope_kind"`
	AgencyID       string    `json:"agency_id,omitempty"`
	SubAccountID   string    `json:"sub_account_id,omitempty"`
	SubAccountName string    `json:"sub_account_name,omitempty"`
	Scopes         []string  `json:"scopes,omitempty"`
	Tokens         *TokenSet `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InstallPatch is a partial update of an InstallRecord. Nil fields are left
// untouched by the store; a non-nil Tokens replaces the stored token set.
type InstallPatch struct {
	ScopeKind      *ScopeKind
	AgencyID       *string
	SubAccountID   *string
	SubAccountName *string
	Scopes         []string
	Tokens         *TokenSet
}

// IsEmpty reports whether the patch carries no fields.
func (p InstallPatch) IsEmpty() bool {
	return p.ScopeKind == nil && p.AgencyID == nil && p.SubAccountID == nil &&
		p.SubAccountName == nil && p.Scopes == nil && p.Tokens == nil
}

// Apply merges the patch into the record. Timestamps are left to the store.
func (r *InstallRecord) Apply(p InstallPatch) {
	if p.ScopeKind != nil {
		r.ScopeKind = *p.ScopeKind
	}
	if p.AgencyID != nil {
		r.AgencyID = *p.AgencyID
	}
	if p.SubAccountID != nil {
		r.SubAccountID = *p.SubAccountID
	}
	if p.SubAccountName != nil {
		r.SubAccountName = *p.SubAccountName
	}
	if p.Scopes != nil {
		r.Scopes = append([]string(nil), p.Scopes...)
	}
	if p.Tokens != nil {
		tokens := *p.Tokens
		r.Tokens = &tokens
	}
}

// AccessToken returns the stored access token, or "".
func (r *InstallRecord) AccessToken() string {
	if r.Tokens == nil {
		return ""
	}
	return r.Tokens.AccessToken
}

// RefreshToken returns the stored refresh token, or "".
func (r *InstallRecord) RefreshToken() string {
	if r.Tokens == nil {
		return ""
	}
	return r.Tokens.RefreshToken
}

// HasTokens reports whether the record carries an access or refresh token.
func (r *InstallRecord) HasTokens() bool {
	return r.AccessToken() != "" || r.RefreshToken() != ""
}

// InstallSummary is a safe view of an install without token values.
type InstallSummary struct {
	TenantKey       string     `json:"tenant_key"`
	ScopeKind       ScopeKind  `json:"scope_kind"`
	AgencyID        string     `json:"agency_id,omitempty"`
	SubAccountID    string     `json:"sub_account_id,omitempty"`
	SubAccountName  string     `json:"sub_account_name,omitempty"`
	Scopes          []string   `json:"scopes,omitempty"`
	TokenType       string     `json:"token_type,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	NeedsRefresh    bool       `json:"needs_refresh"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ToSummary converts InstallRecord to InstallSummary.
func (r *InstallRecord) ToSummary() *InstallSummary {
	s := &InstallSummary{
		TenantKey:       r.TenantKey,
		ScopeKind:       r.ScopeKind,
		AgencyID:        r.AgencyID,
		SubAccountID:    r.SubAccountID,
		SubAccountName:  r.SubAccountName,
		Scopes:          r.Scopes,
		HasRefreshToken: r.RefreshToken() != "",
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.Tokens != nil {
		s.TokenType = r.Tokens.TokenType
		s.ExpiresAt = r.Tokens.ExpiresAt()
		s.NeedsRefresh = r.Tokens.NeedsRefresh() ||
			(r.Tokens.AccessToken == "" && r.Tokens.RefreshToken != "")
	}
	return s
}

// InstallStatus answers whether the app is installed for a sub-account or
// agency. It never carries token values.
type InstallStatus struct {
	Installed    bool   `json:"installed"`
	AgencyID     string `json:"agency_id,omitempty"`
	SubAccountID string `json:"sub_account_id,omitempty"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
