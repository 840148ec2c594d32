package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/ledger"
	"github.com/tonimelisma/abide/internal/session"
)

var errNotVideo = errors.New("not a video file")

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload videos to the Drive folder",
		Long: `Upload one or more videos. Each upload runs as one action: the file is
sent, optionally made public, tagged, and the feed is reloaded. If a later
step fails the file stays uploaded and its id is reported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().String("tags", "", "comma-separated tags (default from upload.default_tags)")
	cmd.Flags().Bool("public", false, "make the video readable by anyone with the link")
	cmd.Flags().String("name", "", "name to store the file under (single file only)")
	cmd.Flags().Int("jobs", 0, "files uploaded at the same time (default upload.parallel)")

	return cmd
}

// uploadOptions are the per-file settings shared by upload and watch.
type uploadOptions struct {
	Tags   []string
	Public bool
	Name   string
}

// uploadOptionsFromFlags merges command flags with the [upload] section.
func uploadOptionsFromFlags(cmd *cobra.Command, cc *CLIContext) uploadOptions {
	opts := uploadOptions{
		Tags:   slices.Clone(cc.Cfg.Upload.DefaultTags),
		Public: cc.Cfg.Upload.Public,
	}

	if cmd.Flags().Changed("tags") {
		v, _ := cmd.Flags().GetString("tags")
		opts.Tags = parseTagList(v)
	}

	if cmd.Flags().Changed("public") {
		opts.Public, _ = cmd.Flags().GetBool("public")
	}

	if f := cmd.Flags().Lookup("name"); f != nil {
		opts.Name = f.Value.String()
	}

	return opts
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	opts := uploadOptionsFromFlags(cmd, cc)

	if opts.Name != "" && len(args) > 1 {
		return fmt.Errorf("--name applies to a single file, got %d", len(args))
	}

	jobs := cc.Cfg.Upload.Parallel
	if cmd.Flags().Changed("jobs") {
		jobs, _ = cmd.Flags().GetInt("jobs")
	}

	if jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1, got %d", jobs)
	}

	s, err := signedInSession(cc)
	if err != nil {
		return err
	}

	led := openLedger(cmd.Context(), cc)
	if led != nil {
		defer led.Close()
	}

	var (
		mu     sync.Mutex
		failed int
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)

	for _, path := range args {
		g.Go(func() error {
			// A failed file does not stop the others; only cancellation does.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			id, err := uploadFile(ctx, cc, s, led, path, opts)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++

				cc.Logger.Error("upload failed", "path", path, "error", err)
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)

				return nil
			}

			fmt.Fprintf(cc.Out, "%s\t%s\n", id, drive.StreamURL(id))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}

	return nil
}

// uploadFile checks a local file against the [upload] limits and runs the
// upload action for it. A successful upload is recorded in led when led is
// not nil.
func uploadFile(
	ctx context.Context, cc *CLIContext, s *session.Session, led *ledger.Ledger, path string, opts uploadOptions,
) (drive.MediaID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}

	if limit := cc.Cfg.Upload.MaxFileSizeBytes(); limit > 0 && info.Size() > limit {
		return "", fmt.Errorf("file is %s, larger than upload.max_file_size (%s)",
			formatSize(info.Size()), cc.Cfg.Upload.MaxFileSize)
	}

	mimeType, err := detectVideoType(path, cc.Cfg.Upload.DefaultMimeType)
	if err != nil {
		return "", err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}

	// Names are stored in NFC; macOS reports decomposed names.
	name = norm.NFC.String(name)

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cc.Logger.Info("uploading",
		"path", path,
		"name", name,
		"mime_type", mimeType,
		"size", info.Size(),
	)

	id, err := s.Upload(ctx, session.UploadRequest{
		Content:  f,
		Name:     name,
		MimeType: mimeType,
		Tags:     opts.Tags,
		Public:   opts.Public,
	})
	if err != nil {
		var stepErr *session.StepError
		if errors.As(err, &stepErr) && stepErr.ID != "" {
			cc.Logger.Warn("upload incomplete", "id", stepErr.ID, "step", stepErr.Step, "action_id", stepErr.ActionID)
		}

		return id, err
	}

	cc.Logger.Info("upload complete", "path", path, "id", id)

	if led != nil {
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			abs = path
		}

		recErr := led.Record(ctx, ledger.Entry{
			Path:    abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			MediaID: string(id),
			Name:    name,
		})
		if recErr != nil {
			cc.Logger.Warn("could not record upload", "path", path, "error", recErr)
		}
	}

	return id, nil
}

// openLedger opens the upload ledger, or returns nil after logging why it
// could not.
func openLedger(ctx context.Context, cc *CLIContext) *ledger.Ledger {
	led, err := ledger.Open(ctx, cc.Cfg.LedgerPath(), cc.Logger)
	if err != nil {
		cc.Logger.Warn("upload ledger unavailable", "path", cc.Cfg.LedgerPath(), "error", err)
		return nil
	}

	return led
}

// detectVideoType sniffs the file content. Content the sniffer cannot
// identify falls back to the file extension, then to fallback. Content that
// is identified as something other than video is rejected.
func detectVideoType(path, fallback string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	if isVideoType(mt.String()) {
		return baseType(mt.String()), nil
	}

	if !mt.Is("application/octet-stream") {
		return "", fmt.Errorf("%s: %w (detected %s)", path, errNotVideo, mt.String())
	}

	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); isVideoType(byExt) {
		return baseType(byExt), nil
	}

	return fallback, nil
}

func isVideoType(t string) bool {
	return strings.HasPrefix(t, "video/")
}

// baseType drops media type parameters such as "; charset=...".
func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}

	return t
}
