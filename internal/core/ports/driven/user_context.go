package driven

import "github.com/custodia-labs/agencylink/internal/core/domain"

// UserContextDecrypter turns the provider's encrypted SSO payload into a
// UserContext.
type UserContextDecrypter interface {
	Decrypt(encrypted string) (*domain.UserContext, error)
}
