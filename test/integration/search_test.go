// Package integration provides end-to-end tests over real storage and indices.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/contrail-search/contrail/internal/catalog"
	"github.com/contrail-search/contrail/internal/config"
	"github.com/contrail-search/contrail/internal/embedding"
	"github.com/contrail-search/contrail/internal/ingest"
	"github.com/contrail-search/contrail/internal/keyword"
	"github.com/contrail-search/contrail/internal/models"
	"github.com/contrail-search/contrail/internal/search"
	"github.com/contrail-search/contrail/internal/server"
	"github.com/contrail-search/contrail/internal/vector"
	"go.uber.org/zap"
)

// buildStack wires index, catalog, filename index, engine, and ingester over
// a temp dir, the way cmd/contrail does at startup.
func buildStack(t *testing.T) (*ingest.Ingester, *search.Engine, *vector.FlatIndex, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	photosDir := filepath.Join(dir, "photos")
	if err := os.MkdirAll(filepath.Join(photosDir, "jets"), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Storage: config.StorageConfig{
			PhotosDir:        photosDir,
			VectorIndexPath:  filepath.Join(dir, "images.vec"),
			MetadataPath:     filepath.Join(dir, "image_metadata.json"),
			CatalogPath:      filepath.Join(dir, "catalog.db"),
			KeywordIndexPath: filepath.Join(dir, "filenames"),
		},
		Embedding: config.EmbeddingConfig{Dimensions: 16},
		Search:    config.SearchConfig{DefaultTopK: 50, MaxTopK: 100},
		Ingest:    config.IngestConfig{BatchSize: 2, Extensions: []string{".jpg", ".png"}},
	}

	index, err := vector.NewFlatIndex(cfg.Embedding.Dimensions,
		cfg.Storage.VectorIndexPath, cfg.Storage.MetadataPath)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cat.Close() })
	filenames, err := keyword.NewFilenameIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = filenames.Close() })

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	engine := search.NewEngine(index, embedder, filenames, &cfg.Search)
	ingester := ingest.NewIngester(index, cat, filenames, embedder,
		photosDir, &cfg.Ingest, nil)
	return ingester, engine, index, cfg
}

func TestIntegration_IngestThenSearch(t *testing.T) {
	ingester, engine, index, cfg := buildStack(t)
	photosDir := cfg.Storage.PhotosDir
	ctx := context.Background()

	for _, rel := range []string{"jets/boeing_747.jpg", "jets/airbus_a320.jpg", "glider.png"} {
		if err := os.WriteFile(filepath.Join(photosDir, rel), []byte("image "+rel), 0644); err != nil {
			t.Fatal(err)
		}
	}

	report, err := ingester.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesAdded != 3 {
		t.Fatalf("added: got %d", report.FilesAdded)
	}

	resp, err := engine.Search(ctx, &models.SearchRequest{Query: "widebody airliner", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 2 {
		t.Errorf("semantic: got %d results", resp.TotalResults)
	}
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("rank %d: got %d", i, r.Rank)
		}
	}

	resp, err = engine.Search(ctx, &models.SearchRequest{Query: "boeing", Mode: models.ModeFilename})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 1 || resp.Results[0].Filename != "boeing_747.jpg" {
		t.Errorf("filename mode: %+v", resp.Results)
	}

	stats := index.Stats()
	if stats.TotalVectors != 3 || stats.MetadataEntries != 3 || !stats.IndexLoaded {
		t.Errorf("stats: %+v", stats)
	}
}

func TestIntegration_RestartReloadsIndex(t *testing.T) {
	ingester, _, index, cfg := buildStack(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(cfg.Storage.PhotosDir, "hercules.jpg"), []byte("c130"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ingester.Run(ctx); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: a fresh index over the same artifact paths.
	stats := index.Stats()
	fresh, err := vector.NewFlatIndex(stats.EmbeddingDim,
		cfg.Storage.VectorIndexPath, cfg.Storage.MetadataPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if fresh.Stats() != stats {
		t.Errorf("restart stats: got %+v, want %+v", fresh.Stats(), stats)
	}

	embedder := embedding.NewMockEmbedder(stats.EmbeddingDim)
	engine := search.NewEngine(fresh, embedder, nil, &config.SearchConfig{DefaultTopK: 50, MaxTopK: 100})
	resp, err := engine.Search(ctx, &models.SearchRequest{Query: "military transport"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 1 || resp.Results[0].Filename != "hercules.jpg" {
		t.Errorf("post-restart search: %+v", resp.Results)
	}
}

func TestIntegration_HTTPRoundTrip(t *testing.T) {
	ingester, engine, _, cfg := buildStack(t)
	photosDir := cfg.Storage.PhotosDir
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(photosDir, "jets", "f16.jpg"), []byte("viper"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ingester.Run(ctx); err != nil {
		t.Fatal(err)
	}

	srv := server.NewServer(engine, photosDir, &config.ServerConfig{Host: "localhost", Port: 0}, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(models.SearchRequest{Query: "fighter jet"})
	resp, err := http.Post(ts.URL+"/api/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var searchResp models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		t.Fatal(err)
	}
	if searchResp.TotalResults != 1 {
		t.Fatalf("total_results: got %d", searchResp.TotalResults)
	}

	// The returned image_url must actually serve the file.
	imgResp, err := http.Get(ts.URL + searchResp.Results[0].ImageURL)
	if err != nil {
		t.Fatal(err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		t.Errorf("image fetch status: got %d", imgResp.StatusCode)
	}
}
