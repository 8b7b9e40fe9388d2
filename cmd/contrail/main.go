// Package main is the Contrail CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/contrail-search/contrail/internal/catalog"
	"github.com/contrail-search/contrail/internal/cli"
	"github.com/contrail-search/contrail/internal/config"
	"github.com/contrail-search/contrail/internal/embedding"
	"github.com/contrail-search/contrail/internal/ingest"
	"github.com/contrail-search/contrail/internal/keyword"
	"github.com/contrail-search/contrail/internal/models"
	"github.com/contrail-search/contrail/internal/search"
	"github.com/contrail-search/contrail/internal/server"
	"github.com/contrail-search/contrail/internal/vector"
	"github.com/contrail-search/contrail/internal/watcher"
	"github.com/contrail-search/contrail/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/contrail/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("contrail version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if err := components.Index.Load(); err != nil {
		if errors.Is(err, vector.ErrArtifactNotFound) {
			logger.Warn("no persisted index found; run 'contrail ingest' to build one",
				zap.String("vector_index_path", cfg.Storage.VectorIndexPath))
		} else {
			logger.Fatal("Failed to load index", zap.Error(err))
		}
	} else {
		stats := components.Index.Stats()
		logger.Info("index loaded", zap.Int("total_vectors", stats.TotalVectors))
	}

	srv := server.NewServer(components.Engine, cfg.Storage.PhotosDir, &cfg.Server, logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Ingest.Watch {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.New(
			cfg.Storage.PhotosDir,
			cfg.Ingest.Extensions,
			func(path string) {
				if err := components.Ingester.IngestFile(context.Background(), path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		logger.Info("watching photo library", zap.String("dir", cfg.Storage.PhotosDir))
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errChan:
		logger.Fatal("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// Continue an existing index when present so IDs keep counting up.
	if err := components.Index.Load(); err != nil && !errors.Is(err, vector.ErrArtifactNotFound) {
		logger.Fatal("Failed to load index", zap.Error(err))
	}

	report, err := components.Ingester.Run(context.Background())
	if err != nil {
		logger.Fatal("Ingest failed", zap.Error(err))
	}
	fmt.Printf("Ingest complete: %d scanned, %d added, %d unchanged (%s)\n",
		report.FilesScanned, report.FilesAdded, report.FilesSkipped,
		report.Duration.Round(time.Millisecond))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server base URL")
	topK := fs.Int("top-k", 0, "number of results (server default when 0)")
	mode := fs.String("mode", "", "search mode: semantic (default) or filename")
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: contrail search [flags] <query text>")
		fs.PrintDefaults()
		os.Exit(1)
	}

	req := &models.SearchRequest{Query: query, TopK: *topK, Mode: *mode}
	response, err := searchViaHTTP(*serverURL, req)
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, cli.SearchOutputFormat(*format)); err != nil {
		fmt.Printf("Failed to write results: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	resp, err := httpClient.Post(strings.TrimRight(serverURL, "/")+"/api/search",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server base URL")
	_ = fs.Parse(os.Args[2:])

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(strings.TrimRight(*serverURL, "/") + "/api/stats")
	if err != nil {
		fmt.Printf("Stats request failed (is the server running?): %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool         `json:"success"`
		Stats   vector.Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Printf("Failed to decode stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Total vectors:    %d\n", out.Stats.TotalVectors)
	fmt.Printf("Embedding dim:    %d\n", out.Stats.EmbeddingDim)
	fmt.Printf("Metadata entries: %d\n", out.Stats.MetadataEntries)
	fmt.Printf("Index loaded:     %v\n", out.Stats.IndexLoaded)
}

// buildQuery joins the remaining args into one query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// Components bundles everything a subcommand needs, with one Close.
type Components struct {
	Index     *vector.FlatIndex
	Catalog   *catalog.Catalog
	Filenames *keyword.FilenameIndex
	Embedder  embedding.Embedder
	Engine    *search.Engine
	Ingester  *ingest.Ingester
	logger    *zap.Logger
}

// Close releases all component resources.
func (c *Components) Close() {
	if c.Filenames != nil {
		if err := c.Filenames.Close(); err != nil {
			c.logger.Warn("failed to close filename index", zap.Error(err))
		}
	}
	if c.Catalog != nil {
		if err := c.Catalog.Close(); err != nil {
			c.logger.Warn("failed to close catalog", zap.Error(err))
		}
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	index, err := vector.NewFlatIndex(
		cfg.Embedding.Dimensions,
		cfg.Storage.VectorIndexPath,
		cfg.Storage.MetadataPath,
	)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	clipClient, err := embedding.NewClipClient(
		cfg.Embedding.ServiceURL,
		cfg.Embedding.Dimensions,
		cfg.Embedding.RequestTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewCachedEmbedder(clipClient, cfg.Embedding.CacheSize)

	cat, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	filenames, err := keyword.NewFilenameIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("open filename index: %w", err)
	}

	engine := search.NewEngine(index, embedder, filenames, &cfg.Search)
	ingester := ingest.NewIngester(index, cat, filenames, embedder,
		cfg.Storage.PhotosDir, &cfg.Ingest, logger)

	return &Components{
		Index:     index,
		Catalog:   cat,
		Filenames: filenames,
		Embedder:  embedder,
		Engine:    engine,
		Ingester:  ingester,
		logger:    logger,
	}, nil
}

func printUsage() {
	fmt.Println(`Contrail - text-to-image semantic search for your photo library

Usage:
  contrail <command> [flags]

Commands:
  server    Start the HTTP API server
  ingest    Embed and index new photos from the photo library
  search    Query a running server
  stats     Show index statistics from a running server
  version   Print version
  help      Show this help

Examples:
  contrail server --config ./config.yaml
  contrail ingest
  contrail search jet taking off at sunset
  contrail search --mode filename boeing 747
  contrail stats`)
}
