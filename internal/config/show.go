package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// summary to w. This powers the "config show" command. The client secret is
// masked.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n")
	ew.printf("# config file: %s\n", r.ConfigPath)
	ew.printf("# token file:  %s\n", r.TokenPath)
	ew.printf("# ledger:      %s\n\n", r.LedgerPath())

	a := &r.Auth
	ew.printf("[auth]\n")
	ew.printf("  client_id       = %q\n", a.ClientID)
	ew.printf("  client_secret   = %q\n", mask(a.ClientSecret))
	ew.printf("  scopes          = [%s]\n", joinQuoted(a.Scopes))
	ew.printf("  refresh_margin  = %q\n", a.RefreshMargin)
	ew.printf("  refresh_timeout = %q\n\n", a.RefreshTimeout)

	d := &r.Drive
	ew.printf("[drive]\n")
	ew.printf("  folder_name  = %q\n", d.FolderName)
	ew.printf("  base_url     = %q\n", d.BaseURL)
	ew.printf("  upload_url   = %q\n", d.UploadURL)
	ew.printf("  userinfo_url = %q\n", d.UserInfoURL)
	ew.printf("  page_size    = %d\n\n", d.PageSize)

	u := &r.Upload
	ew.printf("[upload]\n")
	ew.printf("  default_mime_type = %q\n", u.DefaultMimeType)
	ew.printf("  extensions        = [%s]\n", joinQuoted(u.Extensions))
	ew.printf("  max_file_size     = %q\n", u.MaxFileSize)

	if len(u.DefaultTags) > 0 {
		ew.printf("  default_tags      = [%s]\n", joinQuoted(u.DefaultTags))
	}

	ew.printf("  public            = %t\n", u.Public)
	ew.printf("  bandwidth_limit   = %q\n", u.BandwidthLimit)
	ew.printf("  parallel          = %d\n\n", u.Parallel)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", r.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", r.Network.Timeout)
	ew.printf("  user_agent = %q\n", r.Network.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
