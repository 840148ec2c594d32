package config

// Default values for configuration options. These are "layer 0" of the
// override chain: a zero-config first run only needs a client id.
const (
	defaultRefreshMargin   = "30s"
	defaultRefreshTimeout  = "10s"
	defaultFolderName      = "abide"
	defaultBaseURL         = "https://www.googleapis.com/drive/v3"
	defaultUploadURL       = "https://www.googleapis.com/upload/drive/v3"
	defaultUserInfoURL     = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultPageSize        = 100
	defaultMimeType        = "video/mp4"
	defaultMaxFileSize     = "2GB"
	defaultBandwidthLimit  = "0"
	defaultParallel        = 1
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultTimeout         = "60s"
	defaultUserAgent       = "abide/0.1"
	tokenFileName          = "token.json"
	scopeDriveFile         = "https://www.googleapis.com/auth/drive.file"
	scopeDriveMetadataRead = "https://www.googleapis.com/auth/drive.metadata.readonly"
	scopeUserInfoEmail     = "https://www.googleapis.com/auth/userinfo.email"
	scopeOpenID            = "openid"
)

// DefaultScopes is the consent requested at sign-in. drive.file limits
// access to files this application created.
func DefaultScopes() []string {
	return []string{scopeDriveFile, scopeDriveMetadataRead, scopeOpenID, scopeUserInfoEmail}
}

// DefaultExtensions are the file suffixes the watch command uploads.
func DefaultExtensions() []string {
	return []string{".mp4", ".mov", ".webm", ".m4v", ".mkv"}
}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			Scopes:         DefaultScopes(),
			RefreshMargin:  defaultRefreshMargin,
			RefreshTimeout: defaultRefreshTimeout,
		},
		Drive: DriveConfig{
			FolderName:  defaultFolderName,
			BaseURL:     defaultBaseURL,
			UploadURL:   defaultUploadURL,
			UserInfoURL: defaultUserInfoURL,
			PageSize:    defaultPageSize,
		},
		Upload: UploadConfig{
			DefaultMimeType: defaultMimeType,
			Extensions:      DefaultExtensions(),
			MaxFileSize:     defaultMaxFileSize,
			BandwidthLimit:  defaultBandwidthLimit,
			Parallel:        defaultParallel,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout:   defaultTimeout,
			UserAgent: defaultUserAgent,
		},
	}
}
