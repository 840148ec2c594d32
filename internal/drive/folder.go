package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
)

// folderFlightKey is the singleflight key for folder discovery.
const folderFlightKey = "folder"

// EnsureContainerFolder returns the handle of the well-known folder,
// creating the folder when none exists. The handle is cached until
// ResetFolder, so repeated calls cost no network round trips.
//
// Concurrent callers in this process share one lookup. Two processes
// signing in at the same moment can still both create the folder; when
// several folders share the name, the one with the lexicographically
// smallest id wins, so every client settles on the same folder.
func (c *Client) EnsureContainerFolder(ctx context.Context) (FolderHandle, error) {
	if h := c.Folder(); !h.IsZero() {
		return h, nil
	}

	if err := ctx.Err(); err != nil {
		return FolderHandle{}, fmt.Errorf("drive: waiting for folder lookup: %w", err)
	}

	// The lookup is shared, so one caller's cancellation must not fail the
	// others. The HTTP client timeout still bounds it.
	lookupCtx := context.WithoutCancel(ctx)

	ch := c.folderFlight.DoChan(folderFlightKey, func() (any, error) {
		return c.ensureFolder(lookupCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return FolderHandle{}, res.Err
		}

		h, _ := res.Val.(FolderHandle)

		return h, nil
	case <-ctx.Done():
		return FolderHandle{}, fmt.Errorf("drive: waiting for folder lookup: %w", ctx.Err())
	}
}

// Folder returns the cached folder handle, or the zero handle.
func (c *Client) Folder() FolderHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.folder
}

// ResetFolder forgets the cached handle. Called on sign-out.
func (c *Client) ResetFolder() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.folder = FolderHandle{}
}

func (c *Client) ensureFolder(ctx context.Context) (FolderHandle, error) {
	if h := c.Folder(); !h.IsZero() {
		return h, nil
	}

	files, err := c.listFiles(ctx, folderQuery(c.folderName), "nextPageToken, files(id, name)", "")
	if err != nil {
		return FolderHandle{}, fmt.Errorf("drive: looking up folder %q: %w", c.folderName, err)
	}

	h := pickFolder(files)

	if !h.IsZero() {
		if len(files) > 1 {
			c.logger.Warn("multiple container folders found, using smallest id",
				slog.String("name", c.folderName),
				slog.Int("count", len(files)),
				slog.String("folder_id", h.ID),
			)
		}
	} else {
		h, err = c.createFolder(ctx)
		if err != nil {
			return FolderHandle{}, err
		}
	}

	c.mu.Lock()
	c.folder = h
	c.mu.Unlock()

	c.logger.Info("container folder ready",
		slog.String("name", c.folderName),
		slog.String("folder_id", h.ID),
	)

	return h, nil
}

// pickFolder applies the duplicate tie-break: smallest id wins.
func pickFolder(files []*gdrive.File) FolderHandle {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f.Id != "" {
			ids = append(ids, f.Id)
		}
	}

	if len(ids) == 0 {
		return FolderHandle{}
	}

	return FolderHandle{ID: slices.MinFunc(ids, strings.Compare)}
}

func (c *Client) createFolder(ctx context.Context) (FolderHandle, error) {
	c.logger.Info("creating container folder", slog.String("name", c.folderName))

	req, err := jsonRequest(http.MethodPost, c.baseURL+"/files?fields=id", "/files",
		&gdrive.File{Name: c.folderName, MimeType: FolderMimeType})
	if err != nil {
		return FolderHandle{}, err
	}

	var created gdrive.File
	if err := c.doJSON(ctx, req, &created); err != nil {
		return FolderHandle{}, fmt.Errorf("drive: creating folder %q: %w", c.folderName, err)
	}

	if created.Id == "" {
		return FolderHandle{}, fmt.Errorf("drive: creating folder %q: response carried no id", c.folderName)
	}

	return FolderHandle{ID: created.Id}, nil
}
