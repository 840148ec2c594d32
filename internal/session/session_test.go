package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/abide/internal/auth"
	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/feed"
	"github.com/tonimelisma/abide/internal/tokenfile"
)

// stubProvider issues tok-1, tok-2, ... and records revocations.
type stubProvider struct {
	mu      sync.Mutex
	issued  int
	revoked []string
	denyErr error
}

func (p *stubProvider) RequestToken(_ context.Context, req auth.TokenRequest) (auth.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denyErr != nil {
		return auth.Credential{}, p.denyErr
	}

	p.issued++

	return auth.Credential{
		Token:        fmt.Sprintf("tok-%d", p.issued),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       req.Scopes,
	}, nil
}

func (p *stubProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.revoked = append(p.revoked, token)

	return nil
}

func (p *stubProvider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.revoked...)
}

// stubDrive is a minimal Drive server. fail maps "METHOD /path-prefix" to a
// status returned for matching requests.
type stubDrive struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []string
	fail   map[string]int
	files  []map[string]any
	nextID int

	folderCreates atomic.Int32
}

func newStubDrive(t *testing.T) *stubDrive {
	t.Helper()

	sd := &stubDrive{fail: map[string]int{}}
	sd.srv = httptest.NewServer(http.HandlerFunc(sd.serve))
	t.Cleanup(sd.srv.Close)

	return sd
}

func (sd *stubDrive) failOn(route string, status int) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	sd.fail[route] = status
}

func (sd *stubDrive) Calls() []string {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	return append([]string(nil), sd.calls...)
}

func (sd *stubDrive) serve(w http.ResponseWriter, r *http.Request) {
	route := routeOf(r)

	sd.mu.Lock()
	sd.calls = append(sd.calls, route)
	status := sd.fail[route]
	sd.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":"injected"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch route {
	case "GET /userinfo":
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": "42", "email": "viewer@example.com"})
	case "GET /files":
		sd.serveList(w, r)
	case "POST /files":
		sd.folderCreates.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "folder-1"})
	case "POST /upload/files":
		_, _ = io.Copy(io.Discard, r.Body)

		sd.mu.Lock()
		sd.nextID++
		id := fmt.Sprintf("vid-%d", sd.nextID)
		sd.files = append(sd.files, map[string]any{
			"id": id, "name": id + ".mp4", "mimeType": "video/mp4",
			"createdTime": time.Date(2026, 1, 1, 0, sd.nextID, 0, 0, time.UTC).Format(time.RFC3339),
		})
		sd.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	case "PATCH /files/{id}", "POST /files/{id}/permissions":
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func (sd *stubDrive) serveList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	if strings.Contains(q, drive.FolderMimeType) {
		var files []map[string]string
		if sd.folderCreates.Load() > 0 {
			files = append(files, map[string]string{"id": "folder-1", "name": "abide"})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"files": files})

		return
	}

	sd.mu.Lock()
	files := make([]map[string]any, 0, len(sd.files))
	for i := len(sd.files) - 1; i >= 0; i-- {
		files = append(files, sd.files[i])
	}
	sd.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
}

// routeOf normalizes a request to "METHOD /pattern".
func routeOf(r *http.Request) string {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/permissions"):
		path = "/files/{id}/permissions"
	case strings.HasPrefix(path, "/files/"):
		path = "/files/{id}"
	}

	return r.Method + " " + path
}

type harness struct {
	session   *Session
	provider  *stubProvider
	drive     *stubDrive
	tokenPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &stubProvider{}
	sd := newStubDrive(t)

	mgr := auth.NewManager(provider, auth.Options{
		Scopes: []string{"https://www.googleapis.com/auth/drive.file"},
		Logger: logger,
	})

	dc := drive.NewClient(mgr, drive.Options{
		BaseURL:     sd.srv.URL,
		UploadURL:   sd.srv.URL + "/upload",
		UserInfoURL: sd.srv.URL + "/userinfo",
		HTTPClient:  sd.srv.Client(),
		Logger:      logger,
	})

	tokenPath := filepath.Join(t.TempDir(), "token.json")

	return &harness{
		session:   New(mgr, dc, tokenPath, logger),
		provider:  provider,
		drive:     sd,
		tokenPath: tokenPath,
	}
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()

	_, err := h.session.SignIn(context.Background())
	require.NoError(t, err)
}

func TestSignIn_PersistsCredentialAndAccount(t *testing.T) {
	h := newHarness(t)

	user, err := h.session.SignIn(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "viewer@example.com", user.Email)
	assert.Equal(t, auth.StateAuthenticated, h.session.State())
	assert.Equal(t, "viewer@example.com", h.session.Account())
	assert.Equal(t, int32(1), h.drive.folderCreates.Load())

	tf, err := tokenfile.Load(h.tokenPath)
	require.NoError(t, err)
	require.NotNil(t, tf)
	assert.Equal(t, "tok-1", tf.Token.AccessToken)
	assert.Equal(t, "viewer@example.com", tf.Meta.Account)

	raw, err := os.ReadFile(h.tokenPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "folder", "the folder is rediscovered on every start")
}

func TestSignIn_Denied(t *testing.T) {
	h := newHarness(t)
	h.provider.denyErr = fmt.Errorf("consent refused: %w", auth.ErrAuthDenied)

	_, err := h.session.SignIn(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, auth.ErrAuthDenied)
	assert.Equal(t, auth.StateUnauthenticated, h.session.State())
	assert.Empty(t, h.drive.Calls())

	tf, err := tokenfile.Load(h.tokenPath)
	require.NoError(t, err)
	assert.Nil(t, tf)
}

func TestResume_RestoresSavedCredential(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	other := newHarness(t)
	other.tokenPath = h.tokenPath
	other.session.tokenPath = h.tokenPath

	ok, err := other.session.Resume()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, auth.StateAuthenticated, other.session.State())
	assert.Equal(t, "viewer@example.com", other.session.Account())
}

func TestResume_NothingSaved(t *testing.T) {
	h := newHarness(t)

	ok, err := h.session.Resume()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, auth.StateUnauthenticated, h.session.State())
}

func TestSignOut_ClearsEverything(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	_, err := h.session.ListFeed(context.Background(), "", nil)
	require.NoError(t, err)

	require.NoError(t, h.session.SignOut(context.Background()))
	require.NoError(t, h.session.Wait(context.Background()))

	assert.Equal(t, auth.StateUnauthenticated, h.session.State())
	assert.Empty(t, h.session.Account())
	assert.Empty(t, h.session.Feed())
	assert.Equal(t, []string{"refresh-1"}, h.provider.Revoked())

	tf, err := tokenfile.Load(h.tokenPath)
	require.NoError(t, err)
	assert.Nil(t, tf)

	_, err = h.session.ListFeed(context.Background(), "", nil)
	assert.ErrorIs(t, err, auth.ErrNotSignedIn)
}

func TestUpload_StepsRunInOrder(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	before := len(h.drive.Calls())

	id, err := h.session.Upload(context.Background(), UploadRequest{
		Content: strings.NewReader("bytes"),
		Name:    "clip.mp4",
		Tags:    []string{"cat"},
		Public:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, drive.MediaID("vid-1"), id)

	assert.Equal(t, []string{
		"POST /upload/files",
		"POST /files/{id}/permissions",
		"PATCH /files/{id}",
		"GET /files",
	}, h.drive.Calls()[before:])

	require.Len(t, h.session.Feed(), 1)
}

func TestUpload_OptionalStepsSkipped(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	before := len(h.drive.Calls())

	_, err := h.session.Upload(context.Background(), UploadRequest{
		Content: strings.NewReader("bytes"),
		Name:    "clip.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /upload/files", "GET /files"}, h.drive.Calls()[before:])
}

func TestUpload_FailureAbortsRemainingSteps(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.drive.failOn("POST /files/{id}/permissions", http.StatusForbidden)

	before := len(h.drive.Calls())

	id, err := h.session.Upload(context.Background(), UploadRequest{
		Content: strings.NewReader("bytes"),
		Name:    "clip.mp4",
		Tags:    []string{"cat"},
		Public:  true,
	})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepPublic, stepErr.Step)
	assert.Equal(t, drive.MediaID("vid-1"), stepErr.ID)
	assert.Equal(t, stepErr.ID, id, "the uploaded file is reported, not rolled back")
	assert.ErrorIs(t, err, drive.ErrForbidden)

	assert.Equal(t, []string{
		"POST /upload/files",
		"POST /files/{id}/permissions",
	}, h.drive.Calls()[before:])
}

func TestUpload_UploadFailureHasNoID(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.drive.failOn("POST /upload/files", http.StatusInternalServerError)

	id, err := h.session.Upload(context.Background(), UploadRequest{
		Content: strings.NewReader("bytes"),
		Name:    "clip.mp4",
		Tags:    []string{"cat"},
	})
	require.Error(t, err)
	assert.Empty(t, id)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepUpload, stepErr.Step)
	assert.Len(t, stepErr.ActionID, 36, "action id is a UUID")

	var upErr *drive.UploadError
	assert.ErrorAs(t, err, &upErr)
}

func TestListFeed_SeededShuffleIsDeterministic(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	for range 8 {
		_, err := h.session.Upload(context.Background(), UploadRequest{
			Content: strings.NewReader("x"),
			Name:    "clip.mp4",
		})
		require.NoError(t, err)
	}

	newest, err := h.session.ListFeed(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, newest, 8)
	assert.Equal(t, drive.MediaID("vid-8"), newest[0].ID)

	a, err := h.session.ListFeed(context.Background(), "", feed.NewRand(99))
	require.NoError(t, err)

	b, err := h.session.ListFeed(context.Background(), "", feed.NewRand(99))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.ElementsMatch(t, newest, a)

	assert.Equal(t, drive.MediaID("vid-8"), h.session.Feed()[0].ID, "published feed keeps server order")
}

func TestStepError_Message(t *testing.T) {
	err := &StepError{Step: StepTags, ID: "vid-1", Err: fmt.Errorf("boom")}
	assert.Equal(t, "tags step failed after upload of vid-1: boom", err.Error())

	err = &StepError{Step: StepFolder, Err: fmt.Errorf("boom")}
	assert.Equal(t, "folder step failed: boom", err.Error())
}
