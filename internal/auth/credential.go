package auth

import (
	"slices"
	"time"
)

// DefaultRefreshMargin is how close to expiry a credential may get before it
// is treated as already expired. Requests started inside the margin could
// reach the server after the token dies.
const DefaultRefreshMargin = 30 * time.Second

// Credential is an immutable snapshot of a bearer token. It is replaced
// wholesale on refresh and never edited field by field.
type Credential struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// IsZero reports whether the credential carries nothing usable, neither an
// access token nor a way to obtain one silently.
func (c Credential) IsZero() bool {
	return c.Token == "" && c.RefreshToken == ""
}

// FreshAt reports whether the access token is usable at now, i.e. it is set
// and more than margin away from expiry.
func (c Credential) FreshAt(now time.Time, margin time.Duration) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}

	return now.Before(c.ExpiresAt.Add(-margin))
}

// HasScopes reports whether every scope in required was granted. A
// credential with no recorded scopes is assumed to carry what was asked for.
func (c Credential) HasScopes(required []string) bool {
	if len(c.Scopes) == 0 {
		return true
	}

	for _, s := range required {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}

	return true
}

// revocable returns the token that, when revoked, ends the whole grant.
// Revoking the refresh token also kills derived access tokens.
func (c Credential) revocable() string {
	if c.RefreshToken != "" {
		return c.RefreshToken
	}

	return c.Token
}
