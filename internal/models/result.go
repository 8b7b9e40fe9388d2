package models

// ImageResult is one search hit as returned by the API. SimilarityScore is
// rounded to 4 decimals; ImageURL points at the image-serving endpoint.
type ImageResult struct {
	ID              int     `json:"id"`
	Filename        string  `json:"filename"`
	Path            string  `json:"path"`
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
	ImageURL        string  `json:"image_url"`
}

// SearchResponse is the success envelope for POST /api/search.
type SearchResponse struct {
	Success      bool          `json:"success"`
	Query        string        `json:"query"`
	Results      []ImageResult `json:"results"`
	TotalResults int           `json:"total_results"`
	QueryTime    int64         `json:"query_time_ms"`
}

// ErrorResponse is the failure envelope for all API endpoints.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
