// Package watch uploads videos that appear in a local directory. A file is
// uploaded once it has stopped changing for a settle period, so partially
// written recordings are never sent.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default timing.
const (
	DefaultSettle = 2 * time.Second

	errInitBackoff = 100 * time.Millisecond
	errMaxBackoff  = 10 * time.Second
	errBackoffMult = 2
	minTick        = 10 * time.Millisecond
)

// FsWatcher is the subset of *fsnotify.Watcher the loop needs. Tests inject
// channels directly.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

// NewFsWatcher returns an FsWatcher backed by the operating system.
func NewFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// UploadFunc uploads one settled file.
type UploadFunc func(ctx context.Context, path string) error

// Options configures a Watcher.
type Options struct {
	// Extensions limits uploads to these suffixes, compared without case.
	// Empty means every file.
	Extensions []string

	// Settle is how long a file must be quiet before it is uploaded.
	Settle time.Duration

	Logger *slog.Logger
}

// Watcher turns filesystem events into uploads.
type Watcher struct {
	fs     FsWatcher
	dir    string
	upload UploadFunc
	exts   []string
	settle time.Duration
	logger *slog.Logger

	pending map[string]time.Time
	done    map[string]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a watcher for dir. It does not start watching until Run.
func New(fs FsWatcher, dir string, upload UploadFunc, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	return &Watcher{
		fs:      fs,
		dir:     dir,
		upload:  upload,
		exts:    opts.Extensions,
		settle:  opts.Settle,
		logger:  opts.Logger,
		pending: make(map[string]time.Time),
		done:    make(map[string]time.Time),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run watches until ctx is canceled or the event stream closes. Upload
// failures are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fs.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching for videos", slog.String("dir", w.dir), slog.Duration("settle", w.settle))

	tick := max(w.settle/2, minTick)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ev)

			errBackoff = errInitBackoff

		case watchErr, ok := <-w.fs.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if err := w.sleep(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*errBackoffMult, errMaxBackoff)

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !w.wanted(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.pending[ev.Name] = w.now()

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		delete(w.done, ev.Name)
	}
}

// wanted filters hidden files and files without an upload extension.
func (w *Watcher) wanted(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}

	if len(w.exts) == 0 {
		return true
	}

	ext := filepath.Ext(name)

	return slices.ContainsFunc(w.exts, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}

// flush uploads every pending file that has been quiet for the settle
// period, in path order.
func (w *Watcher) flush(ctx context.Context) {
	now := w.now()

	var due []string

	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			due = append(due, path)
		}
	}

	slices.Sort(due)

	for _, path := range due {
		if ctx.Err() != nil {
			return
		}

		delete(w.pending, path)
		w.uploadOne(ctx, path)
	}
}

func (w *Watcher) uploadOne(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("stat failed", slog.String("path", path), slog.String("error", err.Error()))
		}

		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	if prev, ok := w.done[path]; ok && prev.Equal(info.ModTime()) {
		w.logger.Debug("already uploaded", slog.String("path", path))
		return
	}

	if err := w.upload(ctx, path); err != nil {
		w.logger.Error("upload failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	w.done[path] = info.ModTime()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
