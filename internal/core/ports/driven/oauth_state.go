package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// OAuthState represents a pending install flow.
// Used for CSRF protection and for carrying the caller's hints to the callback.
type OAuthState struct {
	// State is a cryptographically random string used for CSRF protection.
	State string `json:"state"`

	// UserType is the install target requested when the flow started.
	UserType domain.UserType `json:"user_type,omitempty"`

	// ReturnTo is where the browser goes after a successful callback.
	ReturnTo string `json:"return_to,omitempty"`

	// RedirectURI is the callback URL where the provider will redirect.
	RedirectURI string `json:"redirect_uri"`

	// CreatedAt is when the state was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the state expires (typically 10 minutes).
	ExpiresAt time.Time `json:"expires_at"`
}

// OAuthStateStore manages install flow state for CSRF protection.
// States are single-use and expire after a short period.
type OAuthStateStore interface {
	// Save stores a new OAuth state.
	Save(ctx context.Context, state *OAuthState) error

	// GetAndDelete atomically retrieves and deletes the state.
	// Returns nil, nil if the state doesn't exist or has expired.
	GetAndDelete(ctx context.Context, state string) (*OAuthState, error)

	// Cleanup removes expired states.
	Cleanup(ctx context.Context) error
}
