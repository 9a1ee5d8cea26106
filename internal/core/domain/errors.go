package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the provider rejected an access token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the admin token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the admin token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrIdentityAmbiguous indicates neither the token payload nor the
	// identity probe yielded an agency or sub-account id
	ErrIdentityAmbiguous = errors.New("install identity is ambiguous")

	// ErrStoreUnavailable indicates the persistence layer could not be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNoAccessToken indicates the install record holds no access token
	ErrNoAccessToken = errors.New("no access token on file")

	// ErrNoRefreshToken indicates the install record holds no refresh token
	ErrNoRefreshToken = errors.New("no refresh token on file")

	// ErrDiscoveryInProgress indicates another instance is already running
	// discovery for the same agency
	ErrDiscoveryInProgress = errors.New("discovery already in progress")

	// ErrServiceUnavailable indicates the provider could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// maxErrorBody bounds how much of an upstream response body is kept in errors.
const maxErrorBody = 512

// TruncateBody trims an upstream response body for inclusion in errors and logs.
func TruncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

// UpstreamTokenError is returned when the provider token endpoint rejects a
// code exchange or refresh. It is terminal for the operation that caused it.
type UpstreamTokenError struct {
	Status int
	Body   string
}

// NewUpstreamTokenError builds an UpstreamTokenError with a truncated body.
func NewUpstreamTokenError(status int, body []byte) *UpstreamTokenError {
	return &UpstreamTokenError{Status: status, Body: TruncateBody(body)}
}

func (e *UpstreamTokenError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token endpoint returned %d", e.Status)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

// UpstreamError is returned when an authenticated provider API call returns a
// non-2xx status. A 401 matches ErrUnauthorized under errors.Is.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

// NewUpstreamError builds an UpstreamError with a truncated body.
func NewUpstreamError(op string, status int, body []byte) *UpstreamError {
	return &UpstreamError{Op: op, Status: status, Body: TruncateBody(body)}
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: provider returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: provider returned %d: %s", e.Op, e.Status, e.Body)
}

// Is reports whether the error signals an unauthorized access token.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}
