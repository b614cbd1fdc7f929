package auth

import "errors"

// Sentinel errors for authentication.
var (
	ErrTokenMissing = errors.New("auth: access token required")
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrDevDisabled  = errors.New("auth: development tokens are disabled")

	// ErrSignInDisabled is returned by Login when no identity verifier is configured.
	ErrSignInDisabled = errors.New("auth: sign-in is not configured")

	// ErrCredentialInvalid is returned when the identity provider credential is rejected.
	ErrCredentialInvalid = errors.New("auth: invalid credential")

	// ErrVerifierUnavailable is returned when a credential cannot be checked,
	// for example because the provider's signing keys could not be fetched.
	ErrVerifierUnavailable = errors.New("auth: identity verifier unavailable")
)
