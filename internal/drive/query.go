package drive

import (
	"fmt"
	"strings"
)

// FolderMimeType is the Drive mime type of folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// videoMimePrefix selects video files by mime type.
const videoMimePrefix = "video/"

// quoteLiteral renders s as a single-quoted string literal of the Drive
// query language. Backslashes and single quotes are escaped.
func quoteLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// folderQuery matches non-trashed folders named exactly name.
func folderQuery(name string) string {
	return fmt.Sprintf("name = %s and mimeType = %s and trashed = false",
		quoteLiteral(name), quoteLiteral(FolderMimeType))
}

// videoQuery matches non-trashed videos directly inside folderID.
func videoQuery(folderID string) string {
	return fmt.Sprintf("%s in parents and mimeType contains %s and trashed = false",
		quoteLiteral(folderID), quoteLiteral(videoMimePrefix))
}
