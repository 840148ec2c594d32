package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"

	gdrive "google.golang.org/api/drive/v3"
)

// DefaultVideoMimeType is used when the caller does not know the file type.
const DefaultVideoMimeType = "video/mp4"

// UploadMedia stores content as a new file named name inside folder. The
// metadata and the bytes travel in one multipart/related request, so the
// upload either creates the file or leaves nothing behind. There is no
// chunking and no progress reporting. Failures are *UploadError.
func (c *Client) UploadMedia(
	ctx context.Context, folder FolderHandle, content io.Reader, name, mimeType string,
) (MediaID, error) {
	if folder.IsZero() {
		return "", &UploadError{Name: name, Detail: "container folder is not known"}
	}

	if mimeType == "" {
		mimeType = DefaultVideoMimeType
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return "", &UploadError{Name: name, Detail: "reading content: " + err.Error(), Err: err}
	}

	c.logger.Info("uploading media",
		slog.String("name", name),
		slog.String("mime_type", mimeType),
		slog.Int("size", len(data)),
		slog.String("folder_id", folder.ID),
	)

	meta := &gdrive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{folder.ID},
	}

	body, contentType, err := multipartBody(meta, data, mimeType)
	if err != nil {
		return "", &UploadError{Name: name, Detail: err.Error(), Err: err}
	}

	req := request{
		method:      http.MethodPost,
		url:         c.uploadURL + "/files?uploadType=multipart&fields=id,name,mimeType,parents",
		path:        "/upload/files",
		body:        body,
		contentType: contentType,
		paced:       true,
	}

	var created gdrive.File
	if err := c.doJSON(ctx, req, &created); err != nil {
		return "", &UploadError{Name: name, Detail: err.Error(), Err: err}
	}

	if created.Id == "" {
		return "", &UploadError{Name: name, Detail: "response carried no file id"}
	}

	c.logger.Info("upload complete",
		slog.String("name", name),
		slog.String("media_id", created.Id),
	)

	return MediaID(created.Id), nil
}

// multipartBody encodes meta as the JSON first part and data as the raw
// second part. Returns the body and its Content-Type header, which carries
// the boundary.
func multipartBody(meta *gdrive.File, data []byte, mimeType string) ([]byte, string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encoding metadata: %w", err)
	}

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	metaPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return nil, "", fmt.Errorf("creating metadata part: %w", err)
	}

	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, "", fmt.Errorf("writing metadata part: %w", err)
	}

	mediaPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mimeType},
	})
	if err != nil {
		return nil, "", fmt.Errorf("creating media part: %w", err)
	}

	if _, err := mediaPart.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing media part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	contentType := mime.FormatMediaType("multipart/related", map[string]string{"boundary": w.Boundary()})

	return buf.Bytes(), contentType, nil
}
