package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Default endpoints and settings.
const (
	DefaultBaseURL     = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL   = "https://www.googleapis.com/upload/drive/v3"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	DefaultFolderName  = "abide"
	DefaultPageSize    = 100
	DefaultUserAgent   = "abide/0.1"
)

// maxErrorBody caps how much of an error response is kept in RequestError.
const maxErrorBody = 64 * 1024

// TokenSource provides bearer tokens. Defined at the consumer (drive
// package) per Go convention "accept interfaces, return structs".
// auth.Manager is the real implementation.
type TokenSource interface {
	// Token returns an access token that is not about to expire.
	Token(ctx context.Context) (string, error)

	// Invalidate reports that the server rejected token.
	Invalidate(token string)
}

// BodyPacer slows down request bodies. throttle.Limiter is the real
// implementation; only upload bodies are paced.
type BodyPacer interface {
	WrapReader(ctx context.Context, r io.Reader) io.Reader
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL     string
	UploadURL   string
	UserInfoURL string
	FolderName  string
	PageSize    int
	UserAgent   string
	HTTPClient  *http.Client
	Policy      *RetryPolicy
	Pacer       BodyPacer
	Logger      *slog.Logger
}

// Client is the Drive gateway. It is safe for concurrent use; the container
// folder handle it caches is written only by EnsureContainerFolder and
// ResetFolder.
type Client struct {
	baseURL     string
	uploadURL   string
	userInfoURL string
	folderName  string
	pageSize    int
	userAgent   string
	httpClient  *http.Client
	token       TokenSource
	policy      RetryPolicy
	pacer       BodyPacer
	logger      *slog.Logger

	folderFlight singleflight.Group

	mu     sync.Mutex
	folder FolderHandle
}

// NewClient creates a Drive gateway that authorizes every call with token.
func NewClient(token TokenSource, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	policy := DefaultRetryPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	return &Client{
		baseURL:     orDefault(opts.BaseURL, DefaultBaseURL),
		uploadURL:   orDefault(opts.UploadURL, DefaultUploadURL),
		userInfoURL: orDefault(opts.UserInfoURL, DefaultUserInfoURL),
		folderName:  orDefault(opts.FolderName, DefaultFolderName),
		pageSize:    orDefaultInt(opts.PageSize, DefaultPageSize),
		userAgent:   orDefault(opts.UserAgent, DefaultUserAgent),
		httpClient:  opts.HTTPClient,
		token:       token,
		policy:      policy,
		pacer:       opts.Pacer,
		logger:      opts.Logger,
	}
}

// request is one remote call. The body is a byte slice so the identical
// request can be sent again after a credential refresh.
type request struct {
	method      string
	url         string
	path        string // for logs and errors; never carries the token
	body        []byte
	contentType string
	paced       bool // upload bodies go through the client's pacer
}

// do executes req under the retry policy. Each attempt fetches a fresh
// token; an unauthorized response invalidates the token that was used
// before the single retry. The caller closes the response body on success.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	var (
		resp      *http.Response
		usedToken string
	)

	op := func(attempt int) error {
		tok, err := c.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("drive: obtaining token: %w", err)
		}

		usedToken = tok

		r, err := c.doOnce(ctx, req, tok)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("drive: request canceled: %w", ctx.Err())
			}

			return fmt.Errorf("drive: %s %s: %w", req.method, req.path, err)
		}

		if r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", r.StatusCode),
				slog.Int("attempt", attempt),
			)

			resp = r

			return nil
		}

		return c.responseError(req, r)
	}

	beforeRetry := func(attempt int, err error) {
		c.logger.Warn("request unauthorized, refreshing credential and retrying",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		c.token.Invalidate(usedToken)
	}

	if err := c.policy.Run(ctx, op, beforeRetry); err != nil {
		return nil, err
	}

	return resp, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, req request, token string) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)

		if req.paced && c.pacer != nil {
			body = c.pacer.WrapReader(ctx, body)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// A paced body hides its length from net/http.
	httpReq.ContentLength = int64(len(req.body))

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	return c.httpClient.Do(httpReq)
}

// responseError reads and closes a non-2xx response and classifies it.
func (c *Client) responseError(req request, resp *http.Response) error {
	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Debug("request failed",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Int("status", resp.StatusCode),
	)

	return &RequestError{
		Method:     req.method,
		Path:       req.path,
		StatusCode: resp.StatusCode,
		Body:       string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// doJSON executes req and decodes a JSON response into out. out may be nil
// when the response body is not needed.
func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decoding %s %s response: %w", req.method, req.path, err)
	}

	return nil
}

// jsonRequest builds a request with a JSON-encoded body.
func jsonRequest(method, url, path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("drive: encoding %s %s body: %w", method, path, err)
	}

	return request{
		method:      method,
		url:         url,
		path:        path,
		body:        body,
		contentType: "application/json; charset=UTF-8",
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}
