// Package vector provides an exact inner-product similarity index over
// L2-normalized image embeddings, with binary + JSON snapshot persistence.
package vector

// Meta describes one catalogued image. Field order is stable in the
// persisted JSON artifact.
type Meta struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Result is a single search hit: the stored metadata plus the raw
// inner-product score and the 1-based rank within the response.
type Result struct {
	Meta
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
}

// Stats is a point-in-time snapshot of index state.
type Stats struct {
	TotalVectors    int  `json:"total_vectors"`
	EmbeddingDim    int  `json:"embedding_dim"`
	MetadataEntries int  `json:"metadata_entries"`
	IndexLoaded     bool `json:"index_loaded"`
}
