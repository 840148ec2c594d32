// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for abide. Values are layered as
// defaults -> config file -> environment -> CLI flags, and every layer
// produces the same Config structure.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	Drive   DriveConfig   `toml:"drive" json:"drive"`
	Upload  UploadConfig  `toml:"upload" json:"upload"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Network NetworkConfig `toml:"network" json:"network"`
}

// AuthConfig identifies the OAuth client and controls credential refresh.
// refresh_margin is how long before expiry a token is already treated as
// expired; refresh_timeout bounds a silent refresh.
type AuthConfig struct {
	ClientID       string   `toml:"client_id" json:"client_id"`
	ClientSecret   string   `toml:"client_secret" json:"-"`
	Scopes         []string `toml:"scopes" json:"scopes"`
	RefreshMargin  string   `toml:"refresh_margin" json:"refresh_margin"`
	RefreshTimeout string   `toml:"refresh_timeout" json:"refresh_timeout"`
	TokenFile      string   `toml:"token_file" json:"token_file,omitempty"`
}

// DriveConfig points the gateway at the storage API and names the folder
// that holds the videos.
type DriveConfig struct {
	FolderName  string `toml:"folder_name" json:"folder_name"`
	BaseURL     string `toml:"base_url" json:"base_url"`
	UploadURL   string `toml:"upload_url" json:"upload_url"`
	UserInfoURL string `toml:"userinfo_url" json:"userinfo_url"`
	PageSize    int    `toml:"page_size" json:"page_size"`
}

// UploadConfig controls which local files are uploaded and how they are
// labelled.
type UploadConfig struct {
	DefaultMimeType string   `toml:"default_mime_type" json:"default_mime_type"`
	Extensions      []string `toml:"extensions" json:"extensions"`
	MaxFileSize     string   `toml:"max_file_size" json:"max_file_size"`
	DefaultTags     []string `toml:"default_tags" json:"default_tags,omitempty"`
	Public          bool     `toml:"public" json:"public"`
	BandwidthLimit  string   `toml:"bandwidth_limit" json:"bandwidth_limit"`
	Parallel        int      `toml:"parallel" json:"parallel"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	Timeout   string `toml:"timeout" json:"timeout"`
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	FolderName *string // --folder flag
	LogLevel   *string // derived from --verbose / --quiet / --debug
}

// Resolved is the effective configuration after every layer was applied,
// together with where it came from.
type Resolved struct {
	Config

	// ConfigPath is the file that was read. It may not exist.
	ConfigPath string `json:"config_path"`

	// TokenPath is where the signed-in credential is persisted.
	TokenPath string `json:"token_path"`
}

// RefreshMarginDuration returns the parsed refresh margin. Values are checked
// by Validate; an unparsable one falls back to the default.
func (a *AuthConfig) RefreshMarginDuration() time.Duration {
	return durationOr(a.RefreshMargin, defaultRefreshMargin)
}

// RefreshTimeoutDuration returns the parsed refresh timeout.
func (a *AuthConfig) RefreshTimeoutDuration() time.Duration {
	return durationOr(a.RefreshTimeout, defaultRefreshTimeout)
}

// TimeoutDuration returns the parsed HTTP client timeout.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	return durationOr(n.Timeout, defaultTimeout)
}

// MaxFileSizeBytes returns the upload size limit in bytes, 0 for no limit.
func (u *UploadConfig) MaxFileSizeBytes() int64 {
	n, err := ParseSize(u.MaxFileSize)
	if err != nil {
		return 0
	}

	return n
}

// BandwidthBytesPerSec returns the parsed bandwidth_limit; 0 is unlimited.
func (u *UploadConfig) BandwidthBytesPerSec() int64 {
	n, err := ParseRate(u.BandwidthLimit)
	if err != nil {
		return 0
	}

	return n
}

func durationOr(s, def string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}

	return d
}
