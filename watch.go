package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/ledger"
	"github.com/tonimelisma/abide/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Upload videos as they appear in a directory",
		Long: `Watch DIR and upload every new file with one of the upload.extensions once
it has stopped changing. Only one watcher runs at a time; --stop asks the
running watcher to exit.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if stop, _ := cmd.Flags().GetBool("stop"); stop {
				return cobra.NoArgs(cmd, args)
			}

			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: runWatch,
	}

	cmd.Flags().String("tags", "", "comma-separated tags (default from upload.default_tags)")
	cmd.Flags().Bool("public", false, "make uploaded videos readable by anyone with the link")
	cmd.Flags().Duration("settle", watch.DefaultSettle, "how long a file must be unchanged before upload")
	cmd.Flags().Bool("stop", false, "stop the running watcher")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	if stop, _ := cmd.Flags().GetBool("stop"); stop {
		dir, err := stopWatcher(cc.Cfg.WatchLockPath())
		if err != nil {
			return err
		}

		cc.Statusf("Stopped the watcher of %s.\n", dir)

		return nil
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	if info, err := os.Stat(dir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	s, err := signedInSession(cc)
	if err != nil {
		return err
	}

	lock, err := acquireWatchLock(cc.Cfg.WatchLockPath(), dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	fsw, err := watch.NewFsWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	defer fsw.Close()

	opts := uploadOptionsFromFlags(cmd, cc)
	settle, _ := cmd.Flags().GetDuration("settle")

	led := openLedger(cmd.Context(), cc)
	if led != nil {
		defer led.Close()
	}

	w := watch.New(fsw, dir, func(ctx context.Context, path string) error {
		if alreadyUploaded(ctx, cc, led, path) {
			cc.Logger.Info("skipping file uploaded earlier", "path", path)
			return nil
		}

		id, err := uploadFile(ctx, cc, s, led, path, opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(cc.Out, "%s\t%s\t%s\n", path, id, drive.StreamURL(id))

		return nil
	}, watch.Options{
		Extensions: cc.Cfg.Upload.Extensions,
		Settle:     settle,
		Logger:     cc.Logger,
	})

	cc.Statusf("Watching %s. Press Ctrl-C to stop.\n", dir)

	return w.Run(cmd.Context())
}

// alreadyUploaded reports whether the ledger holds path with its current
// size and modification time.
func alreadyUploaded(ctx context.Context, cc *CLIContext, led *ledger.Ledger, path string) bool {
	if led == nil {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	ok, err := led.Uploaded(ctx, path, info.Size(), info.ModTime())
	if err != nil {
		cc.Logger.Warn("ledger lookup failed", "path", path, "error", err)
		return false
	}

	return ok
}
