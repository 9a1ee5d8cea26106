package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
	"github.com/custodia-labs/agencylink/internal/metrics"
)

// TokenOp is a provider call made with a tenant's access token.
type TokenOp func(ctx context.Context, accessToken string) error

// RefreshCoordinatorConfig holds dependencies for the refresh coordinator.
type RefreshCoordinatorConfig struct {
	Store    driven.TokenStore
	Platform driven.PlatformClient
	Logger   *slog.Logger

	// Now is the clock used for SavedAt. Defaults to time.Now.
	Now func() time.Time
}

// RefreshCoordinator runs provider calls on behalf of a tenant and recovers
// from a rejected access token by refreshing it once.
//
// Concurrent refreshes for the same tenant are collapsed into one exchange so
// a rotating refresh token is only spent once per process.
type RefreshCoordinator struct {
	store    driven.TokenStore
	platform driven.PlatformClient
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

// NewRefreshCoordinator creates a new refresh coordinator.
func NewRefreshCoordinator(cfg RefreshCoordinatorConfig) *RefreshCoordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RefreshCoordinator{
		store:    cfg.Store,
		platform: cfg.Platform,
		logger:   logger,
		now:      now,
	}
}

// CallWithRefresh loads the tenant's access token and runs op with it. If op
// fails with an error matching domain.ErrUnauthorized, the token is refreshed,
// persisted, and op is retried exactly once. Any other failure is returned
// unchanged.
func (c *RefreshCoordinator) CallWithRefresh(ctx context.Context, tenantKey string, op TokenOp) error {
	rec, err := c.store.GetByTenantKey(ctx, tenantKey)
	if err != nil {
		return fmt.Errorf("load install %s: %w", tenantKey, err)
	}
	if rec.AccessToken() == "" {
		// Minted records may hold only a refresh token.
		if rec.RefreshToken() == "" {
			return fmt.Errorf("install %s: %w", tenantKey, domain.ErrNoAccessToken)
		}
		accessToken, err := c.refresh(ctx, tenantKey, "")
		if err != nil {
			return err
		}
		return op(ctx, accessToken)
	}

	err = op(ctx, rec.AccessToken())
	if err == nil || !errors.Is(err, domain.ErrUnauthorized) {
		return err
	}
	if rec.RefreshToken() == "" {
		return fmt.Errorf("install %s: %w: %w", tenantKey, domain.ErrNoRefreshToken, err)
	}

	c.logger.Info("access token rejected, refreshing", "tenant_key", tenantKey)
	accessToken, err := c.refresh(ctx, tenantKey, rec.AccessToken())
	if err != nil {
		return err
	}
	return op(ctx, accessToken)
}

// Refresh forces a refresh-token exchange for tenantKey and returns the
// updated record.
func (c *RefreshCoordinator) Refresh(ctx context.Context, tenantKey string) (*domain.InstallRecord, error) {
	rec, err := c.store.GetByTenantKey(ctx, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("load install %s: %w", tenantKey, err)
	}
	if rec.RefreshToken() == "" {
		return nil, fmt.Errorf("install %s: %w", tenantKey, domain.ErrNoRefreshToken)
	}
	if _, err := c.refresh(ctx, tenantKey, rec.AccessToken()); err != nil {
		return nil, err
	}
	return c.store.GetByTenantKey(ctx, tenantKey)
}

// refresh exchanges the stored refresh token. Callers sharing a tenant key
// wait on a single exchange. staleAccess is the token the caller saw
// rejected, or "" when it saw none; if the store already holds a different
// one, another caller refreshed first and that token is used as is.
func (c *RefreshCoordinator) refresh(ctx context.Context, tenantKey, staleAccess string) (string, error) {
	v, err, _ := c.group.Do(tenantKey, func() (interface{}, error) {
		rec, err := c.store.GetByTenantKey(ctx, tenantKey)
		if err != nil {
			return "", fmt.Errorf("reload install %s: %w", tenantKey, err)
		}
		if current := rec.AccessToken(); current != "" && current != staleAccess {
			return current, nil
		}
		previousRefresh := rec.RefreshToken()
		if previousRefresh == "" {
			return "", fmt.Errorf("install %s: %w", tenantKey, domain.ErrNoRefreshToken)
		}

		tok, err := c.platform.RefreshAccessToken(ctx, previousRefresh)
		metrics.ObserveTokenRefresh(err)
		if err != nil {
			c.logger.Warn("token refresh failed", "tenant_key", tenantKey, "error", err)
			return "", fmt.Errorf("refresh %s: %w", tenantKey, err)
		}

		tokens := tokenSetFrom(tok, previousRefresh, c.now())
		patch := domain.InstallPatch{
			Tokens: tokens,
			Scopes: domain.ParseScopes(tokens.RawScope),
		}
		if err := c.store.Upsert(ctx, tenantKey, patch); err != nil {
			return "", fmt.Errorf("persist refreshed tokens for %s: %w", tenantKey, err)
		}
		c.logger.Info("token refreshed", "tenant_key", tenantKey, "expires_in", tokens.ExpiresIn)
		return tokens.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
