package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gdrive "google.golang.org/api/drive/v3"
)

// fakeTokens hands out tok-1, tok-2, ... and moves to the next token when
// the current one is invalidated.
type fakeTokens struct {
	mu          sync.Mutex
	gen         int
	invalidated []string
	err         error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{gen: 1}
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	return fmt.Sprintf("tok-%d", f.gen), nil
}

func (f *fakeTokens) Invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invalidated = append(f.invalidated, token)
	if token == fmt.Sprintf("tok-%d", f.gen) {
		f.gen++
	}
}

func (f *fakeTokens) Invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.invalidated)
}

// fakeFile is one object stored by fakeDrive.
type fakeFile struct {
	ID          string
	Name        string
	MimeType    string
	Parents     []string
	Description string
	CreatedTime time.Time
	Public      bool
	Content     []byte
}

// uploadRecord captures how an upload request was framed.
type uploadRecord struct {
	ContentType  string
	PartTypes    []string
	Metadata     gdrive.File
	ContentBytes []byte
}

// fakeDrive is an in-memory Drive v3 server covering the endpoints the
// client uses.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	files   map[string]*fakeFile
	order   []string
	nextID  int
	clock   time.Time
	uploads []uploadRecord
	tokens  []string
	fields  []string

	// rejectToken returns 401 for any request whose bearer token it accepts.
	rejectToken func(token string) bool

	// failStatus, when non-zero, is returned for every request.
	failStatus atomic.Int32

	requests      atomic.Int32
	folderCreates atomic.Int32
	listCalls     atomic.Int32
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	fd := &fakeDrive{
		t:     t,
		files: make(map[string]*fakeFile),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", fd.handleList)
	mux.HandleFunc("POST /files", fd.handleCreate)
	mux.HandleFunc("PATCH /files/{id}", fd.handlePatch)
	mux.HandleFunc("POST /files/{id}/permissions", fd.handlePermission)
	mux.HandleFunc("POST /upload/files", fd.handleUpload)
	mux.HandleFunc("GET /userinfo", fd.handleUserInfo)

	fd.srv = httptest.NewServer(fd.authorize(mux))
	t.Cleanup(fd.srv.Close)

	return fd
}

// newClient returns a Client pointed at the fake server.
func (fd *fakeDrive) newClient(tokens TokenSource) *Client {
	return NewClient(tokens, Options{
		BaseURL:     fd.srv.URL,
		UploadURL:   fd.srv.URL + "/upload",
		UserInfoURL: fd.srv.URL + "/userinfo",
		PageSize:    2,
		HTTPClient:  fd.srv.Client(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (fd *fakeDrive) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fd.requests.Add(1)

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		fd.mu.Lock()
		fd.tokens = append(fd.tokens, token)
		reject := fd.rejectToken
		fd.mu.Unlock()

		if reject != nil && reject(token) {
			http.Error(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`, http.StatusUnauthorized)
			return
		}

		if status := fd.failStatus.Load(); status != 0 {
			http.Error(w, `{"error":{"message":"injected failure"}}`, int(status))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (fd *fakeDrive) setReject(fn func(token string) bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.rejectToken = fn
}

// seenTokens returns the bearer tokens of all requests so far.
func (fd *fakeDrive) seenTokens() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return slices.Clone(fd.tokens)
}

// listFields returns the field masks of all list requests so far.
func (fd *fakeDrive) listFields() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return slices.Clone(fd.fields)
}

// addFile stores a file directly, bypassing the API. Each added file is one
// minute newer than the previous one.
func (fd *fakeDrive) addFile(f fakeFile) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if f.ID == "" {
		fd.nextID++
		f.ID = fmt.Sprintf("file-%03d", fd.nextID)
	}

	fd.clock = fd.clock.Add(time.Minute)
	f.CreatedTime = fd.clock

	fd.files[f.ID] = &f
	fd.order = append(fd.order, f.ID)

	return f.ID
}

func (fd *fakeDrive) file(id string) (fakeFile, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	f, ok := fd.files[id]
	if !ok {
		return fakeFile{}, false
	}

	return *f, true
}

func (fd *fakeDrive) lastUpload() uploadRecord {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if len(fd.uploads) == 0 {
		fd.t.Fatal("no upload recorded")
	}

	return fd.uploads[len(fd.uploads)-1]
}

func (fd *fakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	fd.listCalls.Add(1)

	q := r.URL.Query().Get("q")
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))

	fd.mu.Lock()

	fd.fields = append(fd.fields, r.URL.Query().Get("fields"))

	var matched []*fakeFile

	for _, id := range fd.order {
		f := fd.files[id]
		if fd.matches(q, f) {
			matched = append(matched, f)
		}
	}

	if r.URL.Query().Get("orderBy") == "createdTime desc" {
		slices.SortStableFunc(matched, func(a, b *fakeFile) int {
			return b.CreatedTime.Compare(a.CreatedTime)
		})
	}

	list := gdrive.FileList{}

	end := len(matched)
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
		list.NextPageToken = strconv.Itoa(end)
	}

	for _, f := range matched[min(offset, len(matched)):end] {
		list.Files = append(list.Files, toWire(f))
	}

	fd.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

// matches understands the two query shapes the client sends.
func (fd *fakeDrive) matches(q string, f *fakeFile) bool {
	if strings.Contains(q, "mimeType = '"+FolderMimeType+"'") {
		return f.MimeType == FolderMimeType && strings.Contains(q, "name = "+quoteLiteral(f.Name))
	}

	if strings.Contains(q, "in parents") {
		if !strings.HasPrefix(f.MimeType, "video/") {
			return false
		}

		for _, p := range f.Parents {
			if strings.HasPrefix(q, quoteLiteral(p)+" in parents") {
				return true
			}
		}
	}

	return false
}

func (fd *fakeDrive) handleCreate(w http.ResponseWriter, r *http.Request) {
	var meta gdrive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if meta.MimeType == FolderMimeType {
		fd.folderCreates.Add(1)
	}

	id := fd.addFile(fakeFile{Name: meta.Name, MimeType: meta.MimeType, Parents: meta.Parents})

	writeJSON(w, http.StatusOK, gdrive.File{Id: id})
}

func (fd *fakeDrive) handlePatch(w http.ResponseWriter, r *http.Request) {
	var meta gdrive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	f, ok := fd.files[r.PathValue("id")]

	if ok {
		f.Description = meta.Description
	}
	fd.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":{"message":"File not found"}}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, gdrive.File{Id: f.ID, Description: meta.Description})
}

func (fd *fakeDrive) handlePermission(w http.ResponseWriter, r *http.Request) {
	var perm gdrive.Permission
	if err := json.NewDecoder(r.Body).Decode(&perm); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fd.mu.Lock()
	f, ok := fd.files[r.PathValue("id")]

	if ok && perm.Role == "reader" && perm.Type == "anyone" {
		f.Public = true
	}
	fd.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":{"message":"File not found"}}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, gdrive.Permission{Id: "anyoneWithLink", Role: perm.Role, Type: perm.Type})
}

func (fd *fakeDrive) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		http.Error(w, "unsupported upload type", http.StatusBadRequest)
		return
	}

	rec := uploadRecord{ContentType: r.Header.Get("Content-Type")}

	mediaType, params, err := mime.ParseMediaType(rec.ContentType)
	if err != nil || mediaType != "multipart/related" {
		http.Error(w, "expected multipart/related", http.StatusBadRequest)
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}

		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rec.PartTypes = append(rec.PartTypes, part.Header.Get("Content-Type"))

		data, _ := io.ReadAll(part)
		if i == 0 {
			if err := json.Unmarshal(data, &rec.Metadata); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			rec.ContentBytes = data
		}
	}

	fd.mu.Lock()
	fd.uploads = append(fd.uploads, rec)
	fd.mu.Unlock()

	id := fd.addFile(fakeFile{
		Name:     rec.Metadata.Name,
		MimeType: rec.Metadata.MimeType,
		Parents:  rec.Metadata.Parents,
		Content:  rec.ContentBytes,
	})

	writeJSON(w, http.StatusOK, gdrive.File{Id: id, Name: rec.Metadata.Name})
}

func (fd *fakeDrive) handleUserInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":   "1234567890",
		"email": "viewer@example.com",
		"name":  "Test Viewer",
	})
}

func toWire(f *fakeFile) *gdrive.File {
	return &gdrive.File{
		Id:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Parents:     f.Parents,
		Description: f.Description,
		CreatedTime: f.CreatedTime.Format(time.RFC3339),
		WebViewLink: "https://drive.google.com/file/d/" + f.ID + "/view",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
