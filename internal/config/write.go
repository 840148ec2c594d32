package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is owner read/write only: the file may hold the
// OAuth client secret.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// listKeys are written as TOML arrays; the value is split on commas.
var listKeys = map[string]bool{
	"auth.scopes":         true,
	"upload.extensions":   true,
	"upload.default_tags": true,
}

// configTemplate is written by "config init". Every setting is present as a
// commented-out default so users can discover options without reading docs.
const configTemplate = `# abide configuration

[auth]
# OAuth client of type "Desktop app" from the Google Cloud console.
# client_id = ""
# client_secret = ""
# refresh_margin = "30s"
# refresh_timeout = "10s"

[drive]
# Folder in My Drive that holds the videos.
# folder_name = "abide"
# page_size = 100

[upload]
# default_mime_type = "video/mp4"
# extensions = [".mp4", ".mov", ".webm", ".m4v", ".mkv"]
# max_file_size = "2GB"
# default_tags = []
# public = false
# Aggregate upload rate such as "5MB/s"; "0" is unlimited.
# bandwidth_limit = "0"
# Files uploaded at the same time by upload and watch.
# parallel = 1

[logging]
# log_level = "info"
# log_format = "text"

[network]
# timeout = "60s"
`

// ErrConfigExists is returned by WriteTemplate when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// WriteTemplate creates a commented config file at path. It never
// overwrites an existing file.
func WriteTemplate(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	logger.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets "section.key" to value in the config file at path, creating
// the file or section as needed. Other lines, comments included, are left
// untouched. The edited file must still load cleanly or nothing is written.
func SetKey(path, dotted, value string, logger *slog.Logger) error {
	section, key, ok := splitKey(dotted)
	if !ok || !isKnownKey(section, key) {
		return withSuggestion(fmt.Sprintf("unknown config key %q", dotted), dotted, dottedKeys())
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading config file: %w", err)
	}

	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(dotted, value))
	content := setKeyInContent(string(data), section, key, newLine)

	cfg := DefaultConfig()

	md, err := toml.Decode(content, cfg)
	if err != nil {
		return fmt.Errorf("setting %s: %w", dotted, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return err
	}

	if err := Validate(cfg); err != nil {
		return fmt.Errorf("setting %s: %w", dotted, err)
	}

	logger.Info("setting config key",
		slog.String("path", path),
		slog.String("key", dotted),
	)

	return atomicWriteFile(path, []byte(content))
}

func dottedKeys() []string {
	var out []string

	for _, section := range knownSections {
		for _, k := range knownKeys[section] {
			out = append(out, section+"."+k)
		}
	}

	return out
}

// setKeyInContent replaces key inside [section] or inserts it after the
// header. A missing section is appended at the end.
func setKeyInContent(content, section, key, newLine string) string {
	lines := strings.Split(content, "\n")
	header := "[" + section + "]"

	headerLine := -1

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			headerLine = i
			break
		}
	}

	if headerLine < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		return content + "\n" + header + "\n" + newLine + "\n"
	}

	end := len(lines)

	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			end = i
			break
		}
	}

	for i := headerLine + 1; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine
			return strings.Join(lines, "\n")
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return strings.Join(inserted, "\n")
}

// formatTOMLValue renders value for the given key. Booleans and integers
// are bare, list keys become arrays, everything else is a quoted string.
func formatTOMLValue(dotted, value string) string {
	if listKeys[dotted] {
		var quoted []string

		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				quoted = append(quoted, strconv.Quote(item))
			}
		}

		return "[" + strings.Join(quoted, ", ") + "]"
	}

	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.Atoi(value); err == nil {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
