package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a silent refresh. A refresh that has not
// finished by then counts as failed and the caller must sign in again.
const DefaultRefreshTimeout = 10 * time.Second

// revokeTimeout bounds the fire-and-forget revocation on sign-out.
const revokeTimeout = 5 * time.Second

// refreshKey is the singleflight key shared by every refresh.
const refreshKey = "refresh"

// State is the manager's position in the credential lifecycle.
type State int

// Credential lifecycle states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Scopes         []string
	RefreshMargin  time.Duration
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Manager is the sole owner and mutator of the session credential. All
// methods are safe for concurrent use.
type Manager struct {
	provider       Provider
	scopes         []string
	margin         time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger

	// nowFunc returns the current time. Tests override it to move the clock.
	nowFunc func() time.Time

	flight singleflight.Group

	mu        sync.Mutex
	cred      Credential
	state     State
	stale     bool
	observers []func(Credential)

	// gen changes on every Acquire, Restore and SignOut. A refresh installs
	// its result only if gen is unchanged since it started.
	gen uint64

	revokes sync.WaitGroup
}

// NewManager creates a Manager in the Unauthenticated state.
func NewManager(provider Provider, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}

	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}

	return &Manager{
		provider:       provider,
		scopes:         opts.Scopes,
		margin:         opts.RefreshMargin,
		refreshTimeout: opts.RefreshTimeout,
		logger:         opts.Logger,
		nowFunc:        time.Now,
	}
}

// OnChange registers fn to be called with every new credential obtained by
// Acquire or a silent refresh. fn runs outside the manager's lock.
func (m *Manager) OnChange(fn func(Credential)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observers = append(m.observers, fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Current returns a snapshot of the held credential without refreshing it.
func (m *Manager) Current() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cred
}

// Restore seeds the manager with a previously persisted credential. The
// access token may already be expired; EnsureFresh refreshes it silently.
func (m *Manager) Restore(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cred = cred
	m.stale = false
	m.gen++

	if cred.IsZero() {
		m.state = StateUnauthenticated
	} else {
		m.state = StateAuthenticated
	}

	m.logger.Debug("credential restored",
		slog.Time("expires_at", cred.ExpiresAt),
		slog.Bool("refreshable", cred.RefreshToken != ""),
	)
}

// Acquire obtains a new credential from the provider. With interactive set
// the provider may show a consent step, so Acquire(ctx, true) must only run
// in response to a user action. On failure the manager is left
// Unauthenticated.
func (m *Manager) Acquire(ctx context.Context, interactive bool) (Credential, error) {
	m.mu.Lock()
	prior := m.cred
	m.state = StateAuthenticating
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("acquiring credential", slog.Bool("interactive", interactive))

	cred, err := m.provider.RequestToken(ctx, TokenRequest{
		Scopes:       m.scopes,
		Interactive:  interactive,
		RefreshToken: prior.RefreshToken,
	})
	if err != nil {
		m.reset(gen)
		m.logger.Warn("credential acquisition failed", slog.String("error", err.Error()))

		return Credential{}, fmt.Errorf("auth: acquiring credential: %w", err)
	}

	if !m.install(gen, cred) {
		return Credential{}, fmt.Errorf("auth: acquiring credential: %w", errSuperseded)
	}

	m.logger.Info("credential acquired", slog.Time("expires_at", cred.ExpiresAt))

	return cred, nil
}

// EnsureFresh returns a credential that is valid for at least the refresh
// margin. A fresh credential is returned without any network call. A stale
// one is refreshed silently; concurrent callers share a single in-flight
// refresh and all observe its result. A rejected or timed-out refresh
// returns an error wrapping ErrAuthExpired and leaves the manager
// Unauthenticated.
func (m *Manager) EnsureFresh(ctx context.Context) (Credential, error) {
	if cred, ok, err := m.snapshot(); err != nil || ok {
		return cred, err
	}

	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}

		cred, _ := res.Val.(Credential)

		return cred, nil
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("auth: waiting for refresh: %w", ctx.Err())
	}
}

// Token returns a fresh access token string. It lets the manager serve as
// the token source of the storage client.
func (m *Manager) Token(ctx context.Context) (string, error) {
	cred, err := m.EnsureFresh(ctx)
	if err != nil {
		return "", err
	}

	return cred.Token, nil
}

// Invalidate marks token as rejected by the server so the next EnsureFresh
// refreshes. It is a no-op when token is no longer the current one, so a
// late invalidation cannot discard a newer credential.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" || m.cred.Token != token {
		return
	}

	m.stale = true

	m.logger.Info("credential invalidated after rejection")
}

// SignOut drops the credential immediately and revokes it remotely in the
// background. The transition to Unauthenticated never waits on the network.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	old := m.cred
	m.cred = Credential{}
	m.state = StateUnauthenticated
	m.stale = false
	m.gen++
	m.mu.Unlock()

	m.logger.Info("signed out")

	token := old.revocable()
	if token == "" {
		return
	}

	m.revokes.Add(1)

	go func() {
		defer m.revokes.Done()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()

		if err := m.provider.Revoke(rctx, token); err != nil {
			m.logger.Warn("token revocation failed", slog.String("error", err.Error()))
			return
		}

		m.logger.Debug("token revoked")
	}()
}

// Wait blocks until background revocations finish or ctx is done. A process
// about to exit calls it so a pending revoke is not cut off.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		m.revokes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot returns the current credential with ok=true when it can be used
// as is.
func (m *Manager) snapshot() (Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred.IsZero() {
		return Credential{}, false, ErrNotSignedIn
	}

	if m.usableLocked() {
		return m.cred, true, nil
	}

	return Credential{}, false, nil
}

// usableLocked reports whether the held credential needs no refresh.
// Caller holds m.mu.
func (m *Manager) usableLocked() bool {
	return !m.stale &&
		m.cred.FreshAt(m.nowFunc(), m.margin) &&
		m.cred.HasScopes(m.scopes)
}

// refresh runs inside the singleflight. It rechecks the credential because
// a caller may have read a stale snapshot just before another flight
// completed.
func (m *Manager) refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.usableLocked() {
		cred := m.cred
		m.mu.Unlock()

		return cred, nil
	}

	prior := m.cred
	gen := m.gen

	if prior.IsZero() {
		m.mu.Unlock()
		return Credential{}, ErrNotSignedIn
	}

	m.state = StateRefreshing
	m.mu.Unlock()

	// Detach from the first caller's cancellation: other callers share this
	// refresh. The timeout still bounds it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	m.logger.Debug("refreshing credential silently", slog.Time("expires_at", prior.ExpiresAt))

	cred, err := m.provider.RequestToken(rctx, TokenRequest{
		Scopes:       m.scopes,
		RefreshToken: prior.RefreshToken,
	})
	if err == nil && !cred.HasScopes(m.scopes) {
		err = fmt.Errorf("%w: granted scopes %v", ErrAuthDenied, cred.Scopes)
	}

	if err != nil {
		m.reset(gen)

		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", m.refreshTimeout, err)
		}

		m.logger.Warn("silent refresh failed", slog.String("error", err.Error()))

		return Credential{}, fmt.Errorf("auth: silent refresh: %w: %w", ErrAuthExpired, err)
	}

	if cred.RefreshToken == "" {
		cred.RefreshToken = prior.RefreshToken
	}

	if !m.install(gen, cred) {
		m.logger.Info("discarding refreshed credential after sign-out or re-authentication")
		return Credential{}, fmt.Errorf("auth: silent refresh: %w", errSuperseded)
	}

	m.logger.Info("credential refreshed", slog.Time("expires_at", cred.ExpiresAt))

	return cred, nil
}

// install replaces the credential and notifies observers. It reports false
// and changes nothing when gen is no longer current.
func (m *Manager) install(gen uint64, cred Credential) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}

	m.cred = cred
	m.state = StateAuthenticated
	m.stale = false
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(cred)
	}

	return true
}

// reset drops the credential after a failed acquisition or refresh, unless
// gen is no longer current.
func (m *Manager) reset(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	m.cred = Credential{}
	m.state = StateUnauthenticated
	m.stale = false
}
