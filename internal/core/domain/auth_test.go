package domain

import (
	"testing"
	"time"
)

func TestNewAuthContext(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	ctx := NewAuthContext(&AdminClaims{Subject: "ops", IssuedAt: time.Now().Unix(), ExpiresAt: exp})

	if ctx.Subject != "ops" {
		t.Errorf("expected subject ops, got %s", ctx.Subject)
	}
	if ctx.ExpiresAt.Unix() != exp {
		t.Errorf("expected expiry %d, got %d", exp, ctx.ExpiresAt.Unix())
	}
}
