// Package identity talks to the authentication backends that own user accounts.
// The portal never stores passwords; it forwards credentials to a Backend and keeps
// the token the backend issues.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Credentials is the email/password pair entered on the sign-in form.
type Credentials struct {
	Email    string
	Password string
}

// User represents an authenticated account.
type User struct {
	UID         string
	Email       string
	DisplayName string
	Roles       []string
	Token       string
}

// Outcome is the resolved result of a login attempt.
type Outcome struct {
	SignedIn     bool
	User         *User
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// Backend performs password sign-in and verifies the tokens it issued.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (*Outcome, error)
	Verify(ctx context.Context, token string) (*User, error)
}

// ErrUnauthorized is returned when authentication fails.
var ErrUnauthorized = errors.New("unauthorized")

const (
	// ReasonMissingToken indicates an auth attempt without credentials.
	ReasonMissingToken = "missing_token"
	// ReasonTokenInvalid indicates a malformed or invalid token.
	ReasonTokenInvalid = "token_invalid"
	// ReasonTokenExpired indicates an expired token which may be recoverable.
	ReasonTokenExpired = "token_expired"
	// ReasonInvalidCredentials indicates an unknown email or a wrong password.
	ReasonInvalidCredentials = "invalid_credentials"
	// ReasonUserDisabled indicates the account exists but may not sign in.
	ReasonUserDisabled = "user_disabled"
	// ReasonRateLimited indicates the backend is throttling this account.
	ReasonRateLimited = "rate_limited"
	// ReasonUnavailable indicates the backend could not be reached or failed.
	ReasonUnavailable = "unavailable"
)

// AuthError contains reason codes for failed authentication attempts.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError constructs an AuthError with the provided reason.
func NewAuthError(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

// ReasonOf extracts the reason code from err, defaulting to token_invalid for
// unauthorized errors and unavailable for everything else.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Reason != "" {
		return authErr.Reason
	}
	if errors.Is(err, ErrUnauthorized) {
		return ReasonTokenInvalid
	}
	return ReasonUnavailable
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
