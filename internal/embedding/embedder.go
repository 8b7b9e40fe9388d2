// Package embedding provides the boundary to the external CLIP embedding
// service, plus a deterministic mock and an LRU cache.
package embedding

import "context"

// Embedder produces vectors in the shared text/image embedding space. The
// model itself lives outside this process; implementations only move bytes.
// Calls may be slow (model inference) and must happen before any index lock
// is taken.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	EmbedImageBatch(ctx context.Context, paths []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
