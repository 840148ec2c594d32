package drive

import (
	"net/url"
	"time"
)

// FolderHandle identifies the container folder. The zero value means "not
// yet discovered".
type FolderHandle struct {
	ID string
}

// IsZero reports whether the handle is unset.
func (h FolderHandle) IsZero() bool {
	return h.ID == ""
}

// MediaID identifies an uploaded video.
type MediaID string

// MediaItem is one video in the container folder. Items are rebuilt on every
// listing; the remote store is the only source of truth.
type MediaItem struct {
	ID          MediaID
	DisplayName string
	Tags        []string
	MimeType    string
	AccessURL   string
	WebViewURL  string
	CreatedAt   time.Time
}

// User is the signed-in account as reported by the userinfo endpoint.
type User struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Label returns the most human-friendly identifier available.
func (u User) Label() string {
	switch {
	case u.Email != "":
		return u.Email
	case u.Subject != "":
		return u.Subject
	default:
		return "(signed in)"
	}
}

// streamBaseURL serves the raw bytes of a file by id.
const streamBaseURL = "https://drive.google.com/uc"

// StreamURL returns the direct-download URL a player can stream from.
func StreamURL(id MediaID) string {
	q := url.Values{"export": {"download"}, "id": {string(id)}}
	return streamBaseURL + "?" + q.Encode()
}
