// Package drive is the authenticated gateway to the Google Drive v3 REST API
// for the video folder: find-or-create the folder, multipart upload, tag
// metadata, public sharing and listing. Every call carries a fresh bearer
// token and is retried exactly once after an unauthorized response.
package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrConflict     = errors.New("drive: conflict")
	ErrThrottled    = errors.New("drive: throttled")
	ErrServerError  = errors.New("drive: server error")
)

// RequestError is a remote call that finished with a non-2xx status. It
// wraps a status sentinel for errors.Is and keeps the response body for
// diagnostics.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("drive: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UploadError reports an upload that did not produce a created object.
type UploadError struct {
	Name   string
	Detail string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("drive: upload of %q failed: %s", e.Name, e.Detail)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an unauthorized response from the
// server. It is the only retry trigger of DefaultRetryPolicy.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
