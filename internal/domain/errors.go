package domain

import (
	"errors"
	"fmt"
)

// Store sentinels. Stores return ErrNotFound on a missing record and
// ErrAlreadyExists when a create hits an existing id.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// AuthCode is the closed set of failure kinds the auth provider boundary
// can report. Conflict codes are not treated as failures by callers; they
// select the conflict-resolution path instead.
type AuthCode string

const (
	// AuthCodeRequiresRecentLogin means the provider demands a fresh
	// sign-in before the attempted destructive operation.
	AuthCodeRequiresRecentLogin AuthCode = "requires_recent_login"

	// AuthCodeProviderAlreadyLinked means the current identity already has
	// a credential from that provider.
	AuthCodeProviderAlreadyLinked AuthCode = "provider_already_linked"

	// AuthCodeCredentialAlreadyInUse means the credential belongs to a
	// different existing identity.
	AuthCodeCredentialAlreadyInUse AuthCode = "credential_already_in_use"

	// AuthCodeInternal covers everything else (network, provider outage).
	AuthCodeInternal AuthCode = "internal"
)

// AuthError is a typed provider failure. Competing carries the credential
// extracted from the failure detail on conflict codes, so the caller can
// sign in with it instead.
type AuthError struct {
	Code      AuthCode
	Competing *Credential
	Err       error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth provider: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("auth provider: %s", e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// AuthCodeOf extracts the tagged code from err, or AuthCodeInternal when
// err is not an AuthError.
func AuthCodeOf(err error) AuthCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return AuthCodeInternal
}

// IsAuthCode reports whether err carries the given tagged code.
func IsAuthCode(err error, code AuthCode) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == code
}

// ReauthAccountChangedError is terminal: reauthentication resolved to a
// different account than the one the destructive operation targets, so
// continuing would operate on the wrong account. Never retried.
type ReauthAccountChangedError struct {
	Expected UserID
	Actual   UserID
}

func (e *ReauthAccountChangedError) Error() string {
	return fmt.Sprintf("reauthentication resolved to account %q, expected %q", e.Actual, e.Expected)
}
