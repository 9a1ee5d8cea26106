package platform

import (
	"net/http"
	"time"
)

// Config contains configuration for the provider client.
type Config struct {
	// APIBaseURL is the base URL of the provider REST API.
	APIBaseURL string

	// TokenURL is the OAuth token endpoint.
	// Defaults to APIBaseURL + "/oauth/token".
	TokenURL string

	// APIVersion is sent in the Version header on every API call.
	APIVersion string

	ClientID     string
	ClientSecret string

	// AppID identifies the marketplace app when listing installed sub-accounts.
	AppID string

	// IdentityPath is the "who am I" endpoint, relative to APIBaseURL.
	IdentityPath string

	// Timeout bounds each HTTP call. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client. Mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns the default provider client configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:   "https://services.leadconnectorhq.com",
		APIVersion:   "2021-07-28",
		IdentityPath: "/users/me",
		Timeout:      30 * time.Second,
	}
}
