package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/abide/internal/config"
	"github.com/tonimelisma/abide/internal/tokenfile"
)

const folderMime = "application/vnd.google-apps.folder"

type cliVideo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	Description string `json:"description,omitempty"`
	CreatedTime string `json:"createdTime"`
	Public      bool   `json:"-"`
}

// cliDrive is a minimal Drive and userinfo endpoint for command tests.
type cliDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	videos  []*cliVideo
	uploads int
	auths   []string
}

func newCLIDrive(t *testing.T) *cliDrive {
	t.Helper()

	d := &cliDrive{t: t}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *cliDrive) addVideo(name, tagsJSON string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.videos) + 1
	d.videos = append(d.videos, &cliVideo{
		ID:          fmt.Sprintf("vid-%d", n),
		Name:        name,
		MimeType:    "video/mp4",
		Description: tagsJSON,
		CreatedTime: time.Date(2026, 1, 1, 0, n, 0, 0, time.UTC).Format(time.RFC3339),
	})
}

func (d *cliDrive) video(id string) *cliVideo {
	for _, v := range d.videos {
		if v.ID == id {
			return v
		}
	}

	return nil
}

func (d *cliDrive) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.auths = append(d.auths, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/userinfo":
		fmt.Fprint(w, `{"sub":"1","email":"me@example.com","name":"Me"}`)

	case r.Method == http.MethodGet && r.URL.Path == "/files":
		if strings.Contains(r.URL.Query().Get("q"), folderMime) {
			fmt.Fprintf(w, `{"files":[{"id":"folder-1","name":"abide","mimeType":%q}]}`, folderMime)
			return
		}

		// Newest first.
		files := make([]*cliVideo, 0, len(d.videos))
		for i := len(d.videos) - 1; i >= 0; i-- {
			files = append(files, d.videos[i])
		}

		assert.NoError(d.t, json.NewEncoder(w).Encode(map[string]any{"files": files}))

	case r.Method == http.MethodPost && r.URL.Path == "/upload/files":
		d.handleUpload(w, r)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/files/"), "/permissions")
		if v := d.video(id); v != nil {
			v.Public = true
		}

		fmt.Fprint(w, `{"id":"anyoneWithLink","role":"reader","type":"anyone"}`)

	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		body, _ := io.ReadAll(r.Body)

		var patch struct {
			Description string `json:"description"`
		}

		assert.NoError(d.t, json.Unmarshal(body, &patch))

		if v := d.video(id); v != nil {
			v.Description = patch.Description
		}

		fmt.Fprintf(w, `{"id":%q}`, id)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func (d *cliDrive) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !assert.NoError(d.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if !assert.NoError(d.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var meta cliVideo
	assert.NoError(d.t, json.NewDecoder(metaPart).Decode(&meta))

	d.uploads++
	meta.ID = fmt.Sprintf("vid-%d", len(d.videos)+1)
	meta.CreatedTime = time.Now().UTC().Format(time.RFC3339)
	d.videos = append(d.videos, &meta)

	fmt.Fprintf(w, `{"id":%q,"name":%q,"mimeType":%q}`, meta.ID, meta.Name, meta.MimeType)
}

// signedInEnv isolates the environment, writes a config pointing at d and
// stores a fresh credential so no token refresh is needed.
func signedInEnv(t *testing.T, d *cliDrive, extraConfig string) string {
	t.Helper()

	dir := isolateEnv(t)
	t.Setenv(config.EnvClientID, "client-123")

	cfgPath := filepath.Join(dir, "abide.toml")
	cfg := fmt.Sprintf("[drive]\nbase_url = %q\nupload_url = %q\nuserinfo_url = %q\n%s",
		d.srv.URL, d.srv.URL+"/upload", d.srv.URL+"/userinfo", extraConfig)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	require.NoError(t, tokenfile.Save(config.DefaultTokenPath(), &tokenfile.File{
		Token: &tokenfile.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(time.Hour),
			Scopes:       config.DefaultScopes(),
		},
		Meta: tokenfile.Meta{Account: "me@example.com"},
	}))

	return cfgPath
}

func TestWhoami_JSON(t *testing.T) {
	d := newCLIDrive(t)
	cfgPath := signedInEnv(t, d, "")

	out, err := runCLI(t, "--config", cfgPath, "--json", "whoami")
	require.NoError(t, err)

	var got whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, "me@example.com", got.Email)
	assert.Equal(t, "Me", got.Name)
	assert.Equal(t, "abide", got.Folder)
	assert.Equal(t, "authenticated", got.State)

	d.mu.Lock()
	defer d.mu.Unlock()

	assert.Equal(t, []string{"Bearer access-1"}, d.auths)
}

func TestWhoami_Text(t *testing.T) {
	d := newCLIDrive(t)
	cfgPath := signedInEnv(t, d, "")

	out, err := runCLI(t, "--config", cfgPath, "whoami")
	require.NoError(t, err)

	assert.Contains(t, out, "Account: me@example.com")
	assert.Contains(t, out, "Folder:  abide")
}

func TestWhoami_NotSignedIn(t *testing.T) {
	isolateEnv(t)
	t.Setenv(config.EnvClientID, "client-123")

	_, err := runCLI(t, "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}
