package search

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/contrail-search/contrail/internal/config"
	"github.com/contrail-search/contrail/internal/embedding"
	"github.com/contrail-search/contrail/internal/keyword"
	"github.com/contrail-search/contrail/internal/models"
	"github.com/contrail-search/contrail/internal/vector"
)

func newTestEngine(t *testing.T, dims int) (*Engine, *vector.FlatIndex, *embedding.MockEmbedder) {
	t.Helper()
	dir := t.TempDir()
	idx, err := vector.NewFlatIndex(dims, filepath.Join(dir, "images.vec"), filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(dims)
	cfg := &config.SearchConfig{DefaultTopK: 50, MaxTopK: 100}
	return NewEngine(idx, embedder, nil, cfg), idx, embedder
}

func TestEngine_SemanticSearch(t *testing.T) {
	engine, idx, embedder := newTestEngine(t, 16)
	ctx := context.Background()

	// Index the embedding of the query text itself so it must come back
	// with similarity ~1.0.
	target, _ := embedder.EmbedText(ctx, "jet on a runway")
	other, _ := embedder.EmbedText(ctx, "something else entirely")
	err := idx.Add(
		[][]float32{target, other},
		[]vector.Meta{
			{ID: 0, Filename: "jet.jpg", Path: "jets/jet.jpg"},
			{ID: 1, Filename: "other.jpg", Path: "other.jpg"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := engine.Search(ctx, &models.SearchRequest{Query: "jet on a runway", TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("success should be true")
	}
	if resp.TotalResults != 2 {
		t.Fatalf("total_results: got %d", resp.TotalResults)
	}
	first := resp.Results[0]
	if first.ID != 0 || first.Rank != 1 {
		t.Errorf("first result: %+v", first)
	}
	if math.Abs(first.SimilarityScore-1.0) > 1e-4 {
		t.Errorf("score: got %f, want ~1.0", first.SimilarityScore)
	}
	if first.ImageURL != "/api/image/jets/jet.jpg" {
		t.Errorf("image_url: got %s", first.ImageURL)
	}
}

func TestEngine_ScoreRounding(t *testing.T) {
	engine, idx, embedder := newTestEngine(t, 16)
	ctx := context.Background()

	v, _ := embedder.EmbedText(ctx, "anything")
	if err := idx.Add([][]float32{v}, []vector.Meta{{ID: 0, Filename: "a.jpg", Path: "a.jpg"}}); err != nil {
		t.Fatal(err)
	}
	resp, err := engine.Search(ctx, &models.SearchRequest{Query: "some unrelated words"})
	if err != nil {
		t.Fatal(err)
	}
	score := resp.Results[0].SimilarityScore
	if score != math.Round(score*10000)/10000 {
		t.Errorf("score not rounded to 4 decimals: %v", score)
	}
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, 8)
	if _, err := engine.Search(context.Background(), &models.SearchRequest{}); err == nil {
		t.Error("empty query should be rejected")
	}
}

func TestEngine_EmptyIndex(t *testing.T) {
	engine, _, _ := newTestEngine(t, 8)
	resp, err := engine.Search(context.Background(), &models.SearchRequest{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 0 || len(resp.Results) != 0 {
		t.Errorf("empty index should yield empty results: %+v", resp)
	}
}

func TestEngine_FilenameMode(t *testing.T) {
	dir := t.TempDir()
	idx, err := vector.NewFlatIndex(8, filepath.Join(dir, "images.vec"), filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	filenames, err := keyword.NewFilenameIndex(filepath.Join(dir, "filenames"))
	if err != nil {
		t.Fatal(err)
	}
	defer filenames.Close()
	embedder := embedding.NewMockEmbedder(8)
	engine := NewEngine(idx, embedder, filenames, &config.SearchConfig{DefaultTopK: 50, MaxTopK: 100})
	ctx := context.Background()

	v, _ := embedder.EmbedImage(ctx, "mustang_p51.jpg")
	if err := idx.Add([][]float32{v}, []vector.Meta{{ID: 0, Filename: "mustang_p51.jpg", Path: "warbirds/mustang_p51.jpg"}}); err != nil {
		t.Fatal(err)
	}
	if err := filenames.Index(ctx, "0", "mustang_p51.jpg", "warbirds/mustang_p51.jpg"); err != nil {
		t.Fatal(err)
	}

	resp, err := engine.Search(ctx, &models.SearchRequest{Query: "mustang", Mode: models.ModeFilename})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 1 {
		t.Fatalf("total_results: got %d", resp.TotalResults)
	}
	if resp.Results[0].Filename != "mustang_p51.jpg" || resp.Results[0].Rank != 1 {
		t.Errorf("result: %+v", resp.Results[0])
	}
}

func TestEngine_FilenameModeDisabled(t *testing.T) {
	engine, _, _ := newTestEngine(t, 8)
	_, err := engine.Search(context.Background(), &models.SearchRequest{Query: "q", Mode: models.ModeFilename})
	if err == nil {
		t.Error("filename mode without index should error")
	}
}

func TestEngine_Deterministic(t *testing.T) {
	engine, idx, embedder := newTestEngine(t, 16)
	ctx := context.Background()
	vecs := make([][]float32, 10)
	metas := make([]vector.Meta, 10)
	for i := range vecs {
		v, _ := embedder.EmbedImage(ctx, "img"+imgSuffix(i))
		vecs[i] = v
		metas[i] = vector.Meta{ID: i, Filename: "f.jpg", Path: "f.jpg"}
	}
	if err := idx.Add(vecs, metas); err != nil {
		t.Fatal(err)
	}
	a, err := engine.Search(ctx, &models.SearchRequest{Query: "propeller"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.Search(ctx, &models.SearchRequest{Query: "propeller"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			t.Fatalf("results differ at %d: %+v vs %+v", i, a.Results[i], b.Results[i])
		}
	}
}

func imgSuffix(i int) string {
	return string(rune('a' + i))
}
