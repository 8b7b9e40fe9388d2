// Package search turns query text into ranked image results.
package search

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/contrail-search/contrail/internal/config"
	"github.com/contrail-search/contrail/internal/embedding"
	"github.com/contrail-search/contrail/internal/keyword"
	"github.com/contrail-search/contrail/internal/models"
	"github.com/contrail-search/contrail/internal/vector"
)

// Engine runs text-to-image search against the similarity index, with an
// optional filename keyword mode.
type Engine struct {
	index     *vector.FlatIndex
	embedder  embedding.Embedder
	filenames *keyword.FilenameIndex
	config    *config.SearchConfig
}

// NewEngine creates a search engine with the given dependencies. filenames
// may be nil; filename-mode queries then return an error.
func NewEngine(
	index *vector.FlatIndex,
	embedder embedding.Embedder,
	filenames *keyword.FilenameIndex,
	cfg *config.SearchConfig,
) *Engine {
	return &Engine{
		index:     index,
		embedder:  embedder,
		filenames: filenames,
		config:    cfg,
	}
}

// Search validates the request, resolves the query to ranked results, and
// builds the API response. The query is embedded before the index is
// touched, so a slow embedding service never holds the index lock.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := req.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	var results []models.ImageResult
	var err error
	switch req.Mode {
	case models.ModeFilename:
		results, err = e.searchFilenames(ctx, req)
	default:
		results, err = e.searchSemantic(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	return &models.SearchResponse{
		Success:      true,
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
		QueryTime:    time.Since(startTime).Milliseconds(),
	}, nil
}

func (e *Engine) searchSemantic(ctx context.Context, req *models.SearchRequest) ([]models.ImageResult, error) {
	queryEmbedding, err := e.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	hits, err := e.index.Search(queryEmbedding, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	results := make([]models.ImageResult, len(hits))
	for i, hit := range hits {
		results[i] = models.ImageResult{
			ID:              hit.ID,
			Filename:        hit.Filename,
			Path:            hit.Path,
			SimilarityScore: roundScore(hit.SimilarityScore),
			Rank:            hit.Rank,
			ImageURL:        "/api/image/" + hit.Path,
		}
	}
	return results, nil
}

func (e *Engine) searchFilenames(ctx context.Context, req *models.SearchRequest) ([]models.ImageResult, error) {
	if e.filenames == nil {
		return nil, fmt.Errorf("filename search is not enabled")
	}
	hits, err := e.filenames.Search(ctx, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}
	results := make([]models.ImageResult, 0, len(hits))
	for _, hit := range hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		meta, ok := e.index.MetaAt(pos)
		if !ok {
			continue
		}
		results = append(results, models.ImageResult{
			ID:              meta.ID,
			Filename:        meta.Filename,
			Path:            meta.Path,
			SimilarityScore: roundScore(hit.Score),
			Rank:            len(results) + 1,
			ImageURL:        "/api/image/" + meta.Path,
		})
	}
	return results, nil
}

// Stats returns the index statistics.
func (e *Engine) Stats() vector.Stats {
	return e.index.Stats()
}

func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
