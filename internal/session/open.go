package session

import (
	"log/slog"
	"net/http"

	"github.com/tonimelisma/abide/internal/auth"
	"github.com/tonimelisma/abide/internal/config"
	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/throttle"
)

// Open builds a session from resolved configuration: a Google identity
// provider, a credential manager and a Drive gateway sharing one HTTP
// client. openURL launches the consent page during sign-in.
func Open(cfg *config.Resolved, openURL func(string) error, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.Network.TimeoutDuration()}

	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}, httpClient, openURL, logger)

	mgr := auth.NewManager(provider, auth.Options{
		Scopes:         cfg.Auth.Scopes,
		RefreshMargin:  cfg.Auth.RefreshMarginDuration(),
		RefreshTimeout: cfg.Auth.RefreshTimeoutDuration(),
		Logger:         logger,
	})

	dc := drive.NewClient(mgr, drive.Options{
		BaseURL:     cfg.Drive.BaseURL,
		UploadURL:   cfg.Drive.UploadURL,
		UserInfoURL: cfg.Drive.UserInfoURL,
		FolderName:  cfg.Drive.FolderName,
		PageSize:    cfg.Drive.PageSize,
		UserAgent:   cfg.Network.UserAgent,
		HTTPClient:  httpClient,
		Pacer:       throttle.New(cfg.Upload.BandwidthBytesPerSec(), logger),
		Logger:      logger,
	})

	return New(mgr, dc, cfg.TokenPath, logger)
}
