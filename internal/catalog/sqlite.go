// Package catalog tracks ingested images in SQLite so that re-ingestion
// skips files that have not changed since their last embedding run.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog is the SQLite-backed ingest bookkeeping store.
type Catalog struct {
	db *sql.DB
}

// ImageRecord is one ingested image as recorded in the catalog.
type ImageRecord struct {
	Path     string
	Filename string
	Size     int64
	ModTime  time.Time
	VectorID int
	RunID    string
}

// Open opens or creates the catalog database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func Open(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		path TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		vector_id INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_run_id ON images(run_id);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		files_added INTEGER DEFAULT 0
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Unchanged reports whether path is already catalogued with the same size
// and modification time.
func (c *Catalog) Unchanged(ctx context.Context, path string, size int64, modTime time.Time) (bool, error) {
	var storedSize, storedMtime int64
	err := c.db.QueryRowContext(ctx,
		`SELECT size, mtime FROM images WHERE path = ?`, path,
	).Scan(&storedSize, &storedMtime)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return storedSize == size && storedMtime == modTime.Unix(), nil
}

// RecordImage upserts the catalog row for an ingested image.
func (c *Catalog) RecordImage(ctx context.Context, rec *ImageRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO images (path, filename, size, mtime, vector_id, run_id, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   filename = excluded.filename,
		   size = excluded.size,
		   mtime = excluded.mtime,
		   vector_id = excluded.vector_id,
		   run_id = excluded.run_id,
		   ingested_at = excluded.ingested_at`,
		rec.Path, rec.Filename, rec.Size, rec.ModTime.Unix(), rec.VectorID, rec.RunID, time.Now(),
	)
	return err
}

// StartRun records the beginning of an ingest run.
func (c *Catalog) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, started_at) VALUES (?, ?)`, runID, startedAt)
	return err
}

// FinishRun records completion of an ingest run and how many files it added.
func (c *Catalog) FinishRun(ctx context.Context, runID string, filesAdded int) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE ingest_runs SET finished_at = ?, files_added = ? WHERE id = ?`,
		time.Now(), filesAdded, runID)
	return err
}

// AbortRun removes the row for a run that did not complete, so failed or
// cancelled runs do not linger as forever-in-flight.
func (c *Catalog) AbortRun(ctx context.Context, runID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM ingest_runs WHERE id = ? AND finished_at IS NULL`, runID)
	return err
}

// UnfinishedRuns returns the number of runs recorded as started but never
// finished.
func (c *Catalog) UnfinishedRuns(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingest_runs WHERE finished_at IS NULL`).Scan(&n)
	return n, err
}

// CountImages returns the number of catalogued images.
func (c *Catalog) CountImages(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
