package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder is a deterministic embedder for tests. The vector is derived
// from a hash of the input, so the same text or image path always maps to
// the same unit-length embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensionality.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) fromSeed(seed string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	base := int(h.Sum32() % 100003)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(base*(i+1)))*0.1 + 0.01)
	}
	// Unit length so inner product equals cosine similarity.
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb
}

// EmbedText returns a deterministic embedding for text.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.fromSeed("text:" + text), nil
}

// EmbedImage returns a deterministic embedding for an image path. The file
// is not read; only the path seeds the vector.
func (e *MockEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	return e.fromSeed("image:" + path), nil
}

// EmbedImageBatch calls EmbedImage for each path.
func (e *MockEmbedder) EmbedImageBatch(ctx context.Context, paths []string) ([][]float32, error) {
	embeddings := make([][]float32, len(paths))
	for i, p := range paths {
		emb, err := e.EmbedImage(ctx, p)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
