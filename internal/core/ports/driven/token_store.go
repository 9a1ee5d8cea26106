package driven

import (
	"context"

	"github.com/custodia-labs/agencylink/internal/core/domain"
)

// TokenStore persists install records keyed by tenant key.
// It is the only writer of InstallRecord; callers never hold records across calls.
type TokenStore interface {
	// Upsert merges the patch into the record at tenantKey, creating it if
	// needed. Fields absent from the patch are preserved. CreatedAt is set on
	// the first write only; UpdatedAt on every write.
	Upsert(ctx context.Context, tenantKey string, patch domain.InstallPatch) error

	// GetByTenantKey returns the record or domain.ErrNotFound.
	GetByTenantKey(ctx context.Context, tenantKey string) (*domain.InstallRecord, error)

	// FindAnyAgencyInstall returns an arbitrary agency-scoped record or
	// domain.ErrNotFound. The choice is not deterministic when several
	// agencies are installed; use it for administrative convenience only.
	FindAnyAgencyInstall(ctx context.Context) (*domain.InstallRecord, error)

	// FindSubAccountInstall returns the most recently updated sub-account
	// record of agencyID that carries tokens, or domain.ErrNotFound.
	FindSubAccountInstall(ctx context.Context, agencyID string) (*domain.InstallRecord, error)

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error
}
