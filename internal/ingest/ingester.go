// Package ingest walks the photo library, embeds new images through the
// external CLIP service, and feeds them into the similarity index.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/contrail-search/contrail/internal/catalog"
	"github.com/contrail-search/contrail/internal/config"
	"github.com/contrail-search/contrail/internal/embedding"
	"github.com/contrail-search/contrail/internal/keyword"
	"github.com/contrail-search/contrail/internal/vector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ingester embeds images from the photo library and adds them to the
// similarity index, the filename index, and the catalog.
type Ingester struct {
	index     *vector.FlatIndex
	catalog   *catalog.Catalog
	filenames *keyword.FilenameIndex
	embedder  embedding.Embedder
	photosDir string
	config    *config.IngestConfig
	logger    *zap.Logger
}

// Report summarizes one ingest run.
type Report struct {
	RunID        string
	FilesScanned int
	FilesSkipped int
	FilesAdded   int
	Duration     time.Duration
}

// NewIngester creates an ingester with the given dependencies. filenames may
// be nil to skip filename indexing; logger may be nil for silent operation.
func NewIngester(
	index *vector.FlatIndex,
	cat *catalog.Catalog,
	filenames *keyword.FilenameIndex,
	embedder embedding.Embedder,
	photosDir string,
	cfg *config.IngestConfig,
	logger *zap.Logger,
) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		index:     index,
		catalog:   cat,
		filenames: filenames,
		embedder:  embedder,
		photosDir: photosDir,
		config:    cfg,
		logger:    logger,
	}
}

// Run walks the photo library and ingests every new or changed image, in
// batches, then persists the index. Files already catalogued with the same
// size and mtime are skipped.
func (g *Ingester) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.New().String()
	if err := g.catalog.StartRun(ctx, runID, start); err != nil {
		return nil, fmt.Errorf("start ingest run: %w", err)
	}
	completed := false
	defer func() {
		if completed {
			return
		}
		// Abort with a fresh context; ctx may be the cancellation that
		// ended the run.
		if err := g.catalog.AbortRun(context.Background(), runID); err != nil {
			g.logger.Warn("abort ingest run", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	files, err := g.collectFiles()
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID, FilesScanned: len(files)}
	g.logger.Info("ingest run started",
		zap.String("run_id", runID),
		zap.Int("files_found", len(files)),
	)

	pending := make([]string, 0, g.config.BatchSize)
	for _, rel := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		changed, err := g.needsIngest(ctx, rel)
		if err != nil {
			return nil, err
		}
		if !changed {
			report.FilesSkipped++
			continue
		}
		pending = append(pending, rel)
		if len(pending) >= g.config.BatchSize {
			if err := g.ingestBatch(ctx, pending, runID); err != nil {
				return nil, err
			}
			report.FilesAdded += len(pending)
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		if err := g.ingestBatch(ctx, pending, runID); err != nil {
			return nil, err
		}
		report.FilesAdded += len(pending)
	}

	if err := g.index.Save(); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	if err := g.catalog.FinishRun(ctx, runID, report.FilesAdded); err != nil {
		return nil, fmt.Errorf("finish ingest run: %w", err)
	}
	completed = true
	report.Duration = time.Since(start)
	g.logger.Info("ingest run finished",
		zap.String("run_id", runID),
		zap.Int("added", report.FilesAdded),
		zap.Int("skipped", report.FilesSkipped),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

// IngestFile ingests a single image and persists the index. Used by the
// directory watcher for live additions. Files with a non-image extension,
// or already catalogued unchanged, are ignored.
func (g *Ingester) IngestFile(ctx context.Context, path string) error {
	if !g.allowedExtension(path) {
		return nil
	}
	rel, err := filepath.Rel(g.photosDir, path)
	if err != nil {
		return fmt.Errorf("path %s is not under photos dir: %w", path, err)
	}
	changed, err := g.needsIngest(ctx, rel)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	runID := uuid.New().String()
	if err := g.catalog.StartRun(ctx, runID, time.Now()); err != nil {
		return err
	}
	if err := g.ingestBatch(ctx, []string{rel}, runID); err != nil {
		_ = g.catalog.AbortRun(context.Background(), runID)
		return err
	}
	if err := g.index.Save(); err != nil {
		_ = g.catalog.AbortRun(context.Background(), runID)
		return fmt.Errorf("save index: %w", err)
	}
	return g.catalog.FinishRun(ctx, runID, 1)
}

// needsIngest reports whether the file at relative path rel is new or
// changed since its last catalogued ingest.
func (g *Ingester) needsIngest(ctx context.Context, rel string) (bool, error) {
	info, err := os.Stat(filepath.Join(g.photosDir, rel))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	unchanged, err := g.catalog.Unchanged(ctx, rel, info.Size(), info.ModTime())
	if err != nil {
		return false, err
	}
	return !unchanged, nil
}

// ingestBatch embeds a batch of relative paths and records them everywhere.
// Metadata IDs continue from the index's current size, so they stay globally
// monotonic across batches and runs.
func (g *Ingester) ingestBatch(ctx context.Context, rels []string, runID string) error {
	absPaths := make([]string, len(rels))
	for i, rel := range rels {
		absPaths[i] = filepath.Join(g.photosDir, rel)
	}
	embeddings, err := g.embedder.EmbedImageBatch(ctx, absPaths)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	baseID := g.index.Size()
	metas := make([]vector.Meta, len(rels))
	for i, rel := range rels {
		metas[i] = vector.Meta{
			ID:       baseID + i,
			Filename: filepath.Base(rel),
			Path:     filepath.ToSlash(rel),
		}
	}
	if err := g.index.Add(embeddings, metas); err != nil {
		return fmt.Errorf("add to index: %w", err)
	}

	for i, rel := range rels {
		meta := metas[i]
		if g.filenames != nil {
			if err := g.filenames.Index(ctx, strconv.Itoa(meta.ID), meta.Filename, meta.Path); err != nil {
				return fmt.Errorf("index filename %s: %w", rel, err)
			}
		}
		info, err := os.Stat(absPaths[i])
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		rec := &catalog.ImageRecord{
			Path:     meta.Path,
			Filename: meta.Filename,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			VectorID: meta.ID,
			RunID:    runID,
		}
		if err := g.catalog.RecordImage(ctx, rec); err != nil {
			return fmt.Errorf("record %s: %w", rel, err)
		}
		g.logger.Debug("image ingested", zap.String("path", meta.Path), zap.Int("id", meta.ID))
	}
	return nil
}

// collectFiles returns the relative paths of all image files under the
// photos dir, sorted for stable insertion order.
func (g *Ingester) collectFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(g.photosDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !g.allowedExtension(path) {
			return nil
		}
		rel, err := filepath.Rel(g.photosDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk photos dir: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (g *Ingester) allowedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range g.config.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
