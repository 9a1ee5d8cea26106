package driven

import "github.com/custodia-labs/agencylink/internal/core/domain"

// AuthAdapter handles administrative bearer token operations.
type AuthAdapter interface {
	GenerateToken(claims *domain.AdminClaims) (string, error)
	ParseToken(token string) (*domain.AdminClaims, error)
}
