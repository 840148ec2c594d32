package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	gdrive "google.golang.org/api/drive/v3"
)

// mediaFields is the field mask for listing videos.
const mediaFields = "nextPageToken, files(id, name, mimeType, description, webViewLink, createdTime)"

// tagFolder is stateless and safe for concurrent use.
var tagFolder = cases.Fold()

// tagDocument is the JSON stored in a file's description.
type tagDocument struct {
	Tags []string `json:"tags"`
}

// SetTags replaces the tags of a file. Tags are stored as {"tags": [...]} in
// the description field, which is otherwise unused by this application.
func (c *Client) SetTags(ctx context.Context, id MediaID, tags []string) error {
	desc, err := encodeTags(tags)
	if err != nil {
		return err
	}

	c.logger.Info("setting tags",
		slog.String("media_id", string(id)),
		slog.Int("count", len(tags)),
	)

	path := "/files/" + url.PathEscape(string(id))

	req, err := jsonRequest(http.MethodPatch, c.baseURL+path+"?fields=id,description", path,
		&gdrive.File{Description: desc})
	if err != nil {
		return err
	}

	if err := c.doJSON(ctx, req, nil); err != nil {
		return fmt.Errorf("drive: setting tags on %s: %w", id, err)
	}

	return nil
}

// MakePublic grants read access to anyone with the link. There is no
// inverse operation.
func (c *Client) MakePublic(ctx context.Context, id MediaID) error {
	c.logger.Info("making media public", slog.String("media_id", string(id)))

	path := "/files/" + url.PathEscape(string(id)) + "/permissions"

	req, err := jsonRequest(http.MethodPost, c.baseURL+path, path,
		&gdrive.Permission{Role: "reader", Type: "anyone"})
	if err != nil {
		return err
	}

	if err := c.doJSON(ctx, req, nil); err != nil {
		return fmt.Errorf("drive: granting public access to %s: %w", id, err)
	}

	return nil
}

// ListMedia returns the videos in folder, newest first. With a non-empty
// filterTag only items with at least one tag containing filterTag,
// case-insensitively, are returned. Items whose description is not tag JSON
// are listed with no tags.
func (c *Client) ListMedia(ctx context.Context, folder FolderHandle, filterTag string) ([]MediaItem, error) {
	if folder.IsZero() {
		return nil, fmt.Errorf("drive: listing media: container folder is not known")
	}

	files, err := c.listFiles(ctx, videoQuery(folder.ID), mediaFields, "createdTime desc")
	if err != nil {
		return nil, fmt.Errorf("drive: listing media: %w", err)
	}

	items := make([]MediaItem, 0, len(files))

	for _, f := range files {
		item := c.toMediaItem(f)
		if filterTag != "" && !MatchesTag(item.Tags, filterTag) {
			continue
		}

		items = append(items, item)
	}

	c.logger.Debug("listed media",
		slog.String("folder_id", folder.ID),
		slog.Int("total", len(files)),
		slog.Int("matched", len(items)),
		slog.String("filter", filterTag),
	)

	return items, nil
}

// MatchesTag reports whether any tag contains filter, ignoring case.
func MatchesTag(tags []string, filter string) bool {
	needle := tagFolder.String(filter)

	for _, t := range tags {
		if strings.Contains(tagFolder.String(t), needle) {
			return true
		}
	}

	return false
}

// ParseTags extracts the tag list from a description. An empty description
// has no tags. Anything that is not a JSON object with a string array under
// "tags" is an error; callers treat it as no tags.
func ParseTags(description string) ([]string, error) {
	if strings.TrimSpace(description) == "" {
		return []string{}, nil
	}

	var doc tagDocument
	if err := json.Unmarshal([]byte(description), &doc); err != nil {
		return []string{}, fmt.Errorf("drive: malformed tag metadata: %w", err)
	}

	if doc.Tags == nil {
		return []string{}, nil
	}

	return doc.Tags, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}

	b, err := json.Marshal(tagDocument{Tags: tags})
	if err != nil {
		return "", fmt.Errorf("drive: encoding tags: %w", err)
	}

	return string(b), nil
}

// toMediaItem normalizes a Drive file into a MediaItem.
func (c *Client) toMediaItem(f *gdrive.File) MediaItem {
	tags, err := ParseTags(f.Description)
	if err != nil {
		c.logger.Debug("ignoring malformed tag metadata",
			slog.String("media_id", f.Id),
			slog.String("error", err.Error()),
		)
	}

	item := MediaItem{
		ID:          MediaID(f.Id),
		DisplayName: f.Name,
		Tags:        tags,
		MimeType:    f.MimeType,
		AccessURL:   StreamURL(MediaID(f.Id)),
		WebViewURL:  f.WebViewLink,
	}

	if f.CreatedTime != "" {
		if t, perr := time.Parse(time.RFC3339, f.CreatedTime); perr == nil {
			item.CreatedAt = t
		}
	}

	return item
}

// listFiles runs a files.list query and follows nextPageToken to the end.
func (c *Client) listFiles(ctx context.Context, q, fields, orderBy string) ([]*gdrive.File, error) {
	var (
		all       []*gdrive.File
		pageToken string
	)

	for {
		params := url.Values{
			"q":        {q},
			"spaces":   {"drive"},
			"fields":   {fields},
			"pageSize": {strconv.Itoa(c.pageSize)},
		}

		if orderBy != "" {
			params.Set("orderBy", orderBy)
		}

		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		req := request{
			method: http.MethodGet,
			url:    c.baseURL + "/files?" + params.Encode(),
			path:   "/files",
		}

		var page gdrive.FileList
		if err := c.doJSON(ctx, req, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Files...)

		if page.NextPageToken == "" {
			return all, nil
		}

		pageToken = page.NextPageToken
	}
}
