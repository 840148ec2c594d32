package auth

import "context"

// TokenRequest asks the identity provider for a credential.
type TokenRequest struct {
	Scopes []string

	// Interactive permits a user-facing consent step. It must only be set in
	// response to a user gesture.
	Interactive bool

	// RefreshToken is the prior grant used for silent refresh. Ignored when
	// Interactive is set.
	RefreshToken string
}

// Provider is the identity provider. Defined here, at the consumer, so the
// manager can be tested with a fake.
type Provider interface {
	// RequestToken returns a credential with ExpiresAt set, or an error
	// wrapping ErrAuthDenied, ErrAuthUnavailable or ErrAuthExpired.
	RequestToken(ctx context.Context, req TokenRequest) (Credential, error)

	// Revoke invalidates token remotely. Callers treat failures as advisory.
	Revoke(ctx context.Context, token string) error
}
