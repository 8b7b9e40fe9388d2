package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_RecordAndUnchanged(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	mtime := time.Unix(1700000000, 0)

	rec := &ImageRecord{
		Path:     "jets/a380.jpg",
		Filename: "a380.jpg",
		Size:     2048,
		ModTime:  mtime,
		VectorID: 0,
		RunID:    "run-1",
	}
	if err := c.RecordImage(ctx, rec); err != nil {
		t.Fatal(err)
	}

	unchanged, err := c.Unchanged(ctx, "jets/a380.jpg", 2048, mtime)
	if err != nil {
		t.Fatal(err)
	}
	if !unchanged {
		t.Error("same size and mtime should report unchanged")
	}

	unchanged, err = c.Unchanged(ctx, "jets/a380.jpg", 4096, mtime)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged {
		t.Error("different size should not report unchanged")
	}

	unchanged, err = c.Unchanged(ctx, "unknown.jpg", 1, mtime)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged {
		t.Error("unknown path should not report unchanged")
	}
}

func TestCatalog_UpsertReplaces(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	rec := &ImageRecord{Path: "p.jpg", Filename: "p.jpg", Size: 1, ModTime: time.Unix(1, 0), VectorID: 0, RunID: "r1"}
	if err := c.RecordImage(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Size = 2
	rec.RunID = "r2"
	if err := c.RecordImage(ctx, rec); err != nil {
		t.Fatal(err)
	}

	n, err := c.CountImages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("upsert should keep one row per path, got %d", n)
	}
	unchanged, _ := c.Unchanged(ctx, "p.jpg", 2, time.Unix(1, 0))
	if !unchanged {
		t.Error("row should reflect updated size")
	}
}

func TestCatalog_Runs(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	if err := c.StartRun(ctx, "run-xyz", time.Now()); err != nil {
		t.Fatal(err)
	}
	n, err := c.UnfinishedRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unfinished while running: got %d", n)
	}
	if err := c.FinishRun(ctx, "run-xyz", 12); err != nil {
		t.Fatal(err)
	}
	n, err = c.UnfinishedRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("unfinished after finish: got %d", n)
	}
}

func TestCatalog_AbortRun(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	if err := c.StartRun(ctx, "run-dead", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := c.AbortRun(ctx, "run-dead"); err != nil {
		t.Fatal(err)
	}
	n, err := c.UnfinishedRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("aborted run still recorded as unfinished: %d", n)
	}

	// A finished run is not touched by a late abort.
	if err := c.StartRun(ctx, "run-ok", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := c.FinishRun(ctx, "run-ok", 3); err != nil {
		t.Fatal(err)
	}
	if err := c.AbortRun(ctx, "run-ok"); err != nil {
		t.Fatal(err)
	}
	var finished int
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingest_runs WHERE id = 'run-ok'`).Scan(&finished)
	if err != nil {
		t.Fatal(err)
	}
	if finished != 1 {
		t.Error("abort removed a finished run")
	}
}
