package config

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 1000
	minRefreshTimeout = 1 * time.Second
	maxRefreshMargin  = 30 * time.Minute
	minTimeout        = 1 * time.Second
	minParallel       = 1
	maxParallel       = 8
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ErrNoClientID is returned by RequireClientID when sign-in is attempted
// without an OAuth client.
var ErrNoClientID = errors.New("auth.client_id is not set (config file or " + EnvClientID + ")")

// RequireClientID checks the settings only interactive sign-in needs. They
// are not part of Validate so that offline commands work without them.
func RequireClientID(a *AuthConfig) error {
	if strings.TrimSpace(a.ClientID) == "" {
		return ErrNoClientID
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if len(a.Scopes) == 0 {
		errs = append(errs, errors.New("auth.scopes: must not be empty"))
	}

	for _, s := range a.Scopes {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("auth.scopes: must not contain empty entries"))
			break
		}
	}

	if d, err := parseDuration("auth.refresh_margin", a.RefreshMargin); err != nil {
		errs = append(errs, err)
	} else if d <= 0 || d > maxRefreshMargin {
		errs = append(errs, fmt.Errorf("auth.refresh_margin: must be positive and at most %s, got %s", maxRefreshMargin, d))
	}

	if d, err := parseDuration("auth.refresh_timeout", a.RefreshTimeout); err != nil {
		errs = append(errs, err)
	} else if d < minRefreshTimeout {
		errs = append(errs, fmt.Errorf("auth.refresh_timeout: must be >= %s, got %s", minRefreshTimeout, d))
	}

	return errs
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	if strings.TrimSpace(d.FolderName) == "" {
		errs = append(errs, errors.New("drive.folder_name: must not be empty"))
	}

	if strings.ContainsAny(d.FolderName, "/\\") {
		errs = append(errs, fmt.Errorf("drive.folder_name: must not contain path separators, got %q", d.FolderName))
	}

	if d.PageSize < minPageSize || d.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("drive.page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, d.PageSize))
	}

	errs = append(errs, validateURL("drive.base_url", d.BaseURL)...)
	errs = append(errs, validateURL("drive.upload_url", d.UploadURL)...)
	errs = append(errs, validateURL("drive.userinfo_url", d.UserInfoURL)...)

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	mediaType, _, err := mime.ParseMediaType(u.DefaultMimeType)
	if err != nil || !strings.HasPrefix(mediaType, "video/") {
		errs = append(errs, fmt.Errorf("upload.default_mime_type: must be a video/* type, got %q", u.DefaultMimeType))
	}

	for _, ext := range u.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("upload.extensions: %q must start with a dot", ext))
		}
	}

	if _, err := ParseSize(u.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("upload.max_file_size: %w", err))
	}

	if _, err := ParseRate(u.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("upload.bandwidth_limit: %w", err))
	}

	if u.Parallel < minParallel || u.Parallel > maxParallel {
		errs = append(errs, fmt.Errorf("upload.parallel: must be between %d and %d, got %d",
			minParallel, maxParallel, u.Parallel))
	}

	for _, tag := range u.DefaultTags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, errors.New("upload.default_tags: must not contain empty tags"))
			break
		}
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be text or json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if d, err := parseDuration("network.timeout", n.Timeout); err != nil {
		errs = append(errs, err)
	} else if d < minTimeout {
		errs = append(errs, fmt.Errorf("network.timeout: must be >= %s, got %s", minTimeout, d))
	}

	if strings.TrimSpace(n.UserAgent) == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	return d, nil
}
