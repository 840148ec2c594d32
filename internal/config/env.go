package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "ABIDE_CONFIG"
	EnvClientID     = "ABIDE_CLIENT_ID"
	EnvClientSecret = "ABIDE_CLIENT_SECRET"
	EnvTokenFile    = "ABIDE_TOKEN_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // ABIDE_CONFIG: override config file path
	ClientID     string // ABIDE_CLIENT_ID: OAuth client id
	ClientSecret string // ABIDE_CLIENT_SECRET: OAuth client secret
	TokenFile    string // ABIDE_TOKEN_FILE: override token file path
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. Secret values are never logged, only whether they were set.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		TokenFile:    os.Getenv(EnvTokenFile),
	}

	if logger != nil {
		logger.Debug("environment overrides",
			slog.String("config_path", o.ConfigPath),
			slog.Bool("client_id_set", o.ClientID != ""),
			slog.Bool("client_secret_set", o.ClientSecret != ""),
			slog.String("token_file", o.TokenFile),
		)
	}

	return o
}
