package domain

// SubAccountSnapshot is a sub-account seen during discovery. It only feeds
// the minting step; the copy stored on the minted record is non-authoritative.
type SubAccountSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Installed bool   `json:"installed"`
}

// DiscoverySource names the enumeration that produced the sub-account list.
type DiscoverySource string

const (
	DiscoverySourceInstalled DiscoverySource = "installed_locations"
	DiscoverySourceListing   DiscoverySource = "company_locations"
	DiscoverySourceNone      DiscoverySource = "none"
)

// FailedMint records a sub-account that could not be minted.
type FailedMint struct {
	SubAccountID string `json:"sub_account_id"`
	Reason       string `json:"reason"`
}

// DiscoveryResult summarizes a discover-and-mint run. Partial failure is
// reported here rather than as an error.
type DiscoveryResult struct {
	AgencyID  string          `json:"agency_id"`
	Source    DiscoverySource `json:"source"`
	Found     int             `json:"found"`
	Minted    int             `json:"minted"`
	MintedIDs []string        `json:"minted_ids"`
	Failed    []FailedMint    `json:"failed,omitempty"`
}

// Partial reports whether some discovered sub-accounts failed to mint.
func (r *DiscoveryResult) Partial() bool {
	return len(r.Failed) > 0
}
