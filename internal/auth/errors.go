// Package auth owns the bearer credential used against the storage API:
// interactive acquisition, silent refresh, invalidation after a rejected
// request, and sign-out with best-effort revocation.
package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential failures. Use errors.Is to check.
var (
	// ErrAuthDenied means the user cancelled consent or the provider rejected
	// the request.
	ErrAuthDenied = errors.New("auth: authorization denied")

	// ErrAuthUnavailable means the identity provider could not be reached.
	ErrAuthUnavailable = errors.New("auth: identity provider unavailable")

	// ErrAuthExpired means the credential is stale and silent refresh was
	// rejected or timed out. The caller must re-run interactive sign-in.
	ErrAuthExpired = errors.New("auth: credential expired, sign in again")

	// ErrNotSignedIn means no credential exists at all.
	ErrNotSignedIn = errors.New("auth: not signed in")
)

// errSuperseded means the credential was replaced or signed out while a
// request for a new one was in flight. The result is discarded.
var errSuperseded = fmt.Errorf("credential changed while the request was in flight: %w", ErrNotSignedIn)

// NeedsSignIn reports whether err can only be resolved by an interactive
// sign-in, as opposed to retrying the operation.
func NeedsSignIn(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrNotSignedIn) ||
		errors.Is(err, ErrAuthDenied)
}
