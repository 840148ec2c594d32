package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// defaultLifetime is assumed when the token response carries no expires_in.
const defaultLifetime = time.Hour

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// GoogleConfig describes the OAuth client registered for the application.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string

	// Endpoint overrides google.Endpoint. Tests point it at a mock server.
	Endpoint *oauth2.Endpoint

	// RevokeURL overrides DefaultRevokeURL.
	RevokeURL string
}

// GoogleProvider implements Provider against Google's OAuth2 endpoints using
// the loopback authorization code + PKCE flow for interactive consent and
// the refresh token grant for silent refresh.
type GoogleProvider struct {
	cfg        *oauth2.Config
	revokeURL  string
	httpClient *http.Client
	openURL    func(string) error
	logger     *slog.Logger
}

// NewGoogleProvider creates a provider. openURL is called with the consent
// URL during interactive acquisition; the CLI uses it to launch a browser.
func NewGoogleProvider(
	gc GoogleConfig, httpClient *http.Client, openURL func(string) error, logger *slog.Logger,
) *GoogleProvider {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := google.Endpoint
	if gc.Endpoint != nil {
		endpoint = *gc.Endpoint
	}

	revokeURL := gc.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultRevokeURL
	}

	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     gc.ClientID,
			ClientSecret: gc.ClientSecret,
			Endpoint:     endpoint,
		},
		revokeURL:  revokeURL,
		httpClient: httpClient,
		openURL:    openURL,
		logger:     logger,
	}
}

// RequestToken implements Provider.
func (p *GoogleProvider) RequestToken(ctx context.Context, req TokenRequest) (Credential, error) {
	cfg := *p.cfg
	cfg.Scopes = req.Scopes
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	var (
		tok *oauth2.Token
		err error
	)

	if req.Interactive {
		tok, err = p.authCodeFlow(ctx, &cfg)
	} else {
		tok, err = p.refresh(ctx, &cfg, req.RefreshToken)
	}

	if err != nil {
		return Credential{}, err
	}

	return toCredential(tok, req.Scopes, time.Now()), nil
}

// Revoke implements Provider. Google accepts either an access or a refresh
// token; revoking the refresh token ends the whole grant.
func (p *GoogleProvider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("auth: creating revoke request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: revoke request: %w: %w", ErrAuthUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("auth: revoke returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// refresh exchanges refreshToken for a new access token.
func (p *GoogleProvider) refresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("auth: no refresh token: %w", ErrAuthExpired)
	}

	// An empty access token forces the token source to hit the token endpoint.
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError("refreshing token", err)
	}

	return tok, nil
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// authCodeFlow performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the consent URL
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
func (p *GoogleProvider) authCodeFlow(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	p.logger.Info("starting browser consent flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, p.logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, p.logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("auth: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	p.launchBrowser(authURL)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	p.logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyTokenError("token exchange", err)
	}

	return tok, nil
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with the
// given mux. Returns the server and the port it listens on.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("auth: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Debug("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the
// result. Only the first result is delivered; later hits are answered but
// dropped.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("auth: OAuth2 state mismatch (possible CSRF): %w", ErrAuthDenied)})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("auth: consent refused: %s: %w", errParam, ErrAuthDenied)})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("auth: callback missing authorization code: %w", ErrAuthDenied)})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the consent URL. If it fails, prints the URL
// to stderr so the user can copy-paste it.
func (p *GoogleProvider) launchBrowser(authURL string) {
	if p.openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if err := p.openURL(authURL); err != nil {
		p.logger.Warn("failed to open browser, printing URL", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: browser consent canceled: %w: %w", ErrAuthDenied, ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// classifyTokenError maps a token endpoint failure onto the auth sentinels.
// A structured rejection from the endpoint is a denial; anything else means
// the provider could not be reached.
func classifyTokenError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return fmt.Errorf("auth: %s: %w: %w", op, ErrAuthDenied, err)
	}

	return fmt.Errorf("auth: %s: %w: %w", op, ErrAuthUnavailable, err)
}

// toCredential converts an oauth2 token, filling ExpiresAt and Scopes when
// the response omitted them.
func toCredential(tok *oauth2.Token, requested []string, now time.Time) Credential {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(defaultLifetime)
	}

	scopes := requested
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}

	return Credential{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expires,
		Scopes:       scopes,
	}
}
