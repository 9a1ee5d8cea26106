package domain

import "time"

// AdminClaims is the payload of an administrative bearer token.
type AdminClaims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// AuthContext contains the authenticated operator for request context
type AuthContext struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewAuthContext builds an AuthContext from verified claims.
func NewAuthContext(claims *AdminClaims) *AuthContext {
	return &AuthContext{
		Subject:   claims.Subject,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
	}
}
