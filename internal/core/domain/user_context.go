package domain

// UserContext is the decrypted SSO payload the provider hands to embedded apps.
type UserContext struct {
	UserID           string `json:"userId,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	Type             string `json:"type,omitempty"`
	ActiveCompanyID  string `json:"activeCompanyId,omitempty"`
	ActiveLocationID string `json:"activeLocationId,omitempty"`
}

// TenantKeys returns the candidate tenant keys for this context, most
// specific first.
func (c *UserContext) TenantKeys() []string {
	var keys []string
	if c.ActiveLocationID != "" {
		keys = append(keys, SubAccountTenantKey(c.ActiveLocationID))
	}
	if c.ActiveCompanyID != "" {
		keys = append(keys, AgencyTenantKey(c.ActiveCompanyID))
	}
	return keys
}
