// Package ledger remembers which local files were uploaded, so a restarted
// watcher does not send the same recording twice. It is a small SQLite
// database next to the token file.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlUpsert = `INSERT INTO uploads (path, size, mtime, media_id, name, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 size = excluded.size,
		 mtime = excluded.mtime,
		 media_id = excluded.media_id,
		 name = excluded.name,
		 uploaded_at = excluded.uploaded_at`

	sqlLookup = `SELECT size, mtime FROM uploads WHERE path = ?`

	sqlRecent = `SELECT path, size, mtime, media_id, name, uploaded_at
		FROM uploads ORDER BY uploaded_at DESC, path LIMIT ?`
)

// Entry is one uploaded local file.
type Entry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	MediaID    string    `json:"media_id"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Ledger is safe for concurrent use; SQLite serializes the writes.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens or creates the ledger at dbPath and applies pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// migrate applies all pending schema migrations with the goose Provider API.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores a successful upload, replacing any earlier entry for the
// same path. A zero UploadedAt is set to now.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.UploadedAt.IsZero() {
		e.UploadedAt = l.nowFunc()
	}

	_, err := l.db.ExecContext(ctx, sqlUpsert,
		e.Path, e.Size, e.ModTime.UnixNano(), e.MediaID, e.Name, e.UploadedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", e.Path, err)
	}

	l.logger.Debug("upload recorded", slog.String("path", e.Path), slog.String("media_id", e.MediaID))

	return nil
}

// Uploaded reports whether path was uploaded with exactly this size and
// modification time.
func (l *Ledger) Uploaded(ctx context.Context, path string, size int64, modTime time.Time) (bool, error) {
	var gotSize, gotMtime int64

	err := l.db.QueryRowContext(ctx, sqlLookup, path).Scan(&gotSize, &gotMtime)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: looking up %s: %w", path, err)
	}

	return gotSize == size && gotMtime == modTime.UnixNano(), nil
}

// Recent returns up to limit entries, most recent upload first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing uploads: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e               Entry
			mtime, uploaded int64
		)

		if err := rows.Scan(&e.Path, &e.Size, &mtime, &e.MediaID, &e.Name, &uploaded); err != nil {
			return nil, fmt.Errorf("ledger: scanning upload row: %w", err)
		}

		e.ModTime = time.Unix(0, mtime)
		e.UploadedAt = time.Unix(0, uploaded)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating upload rows: %w", err)
	}

	return out, nil
}
