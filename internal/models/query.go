// Package models defines the API request and response types.
package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks request validation failures so the HTTP layer can
// answer with a client error instead of a server error.
var ErrInvalidRequest = errors.New("invalid search request")

// Search modes. Semantic embeds the query text and searches the vector
// index; filename matches query words against indexed filenames.
const (
	ModeSemantic = "semantic"
	ModeFilename = "filename"
)

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// Validate checks the request and fills defaults. TopK is clamped to
// [1, maxTopK] with defaultTopK when unset.
func (r *SearchRequest) Validate(defaultTopK, maxTopK int) error {
	if r.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	switch r.Mode {
	case "", ModeSemantic:
		r.Mode = ModeSemantic
	case ModeFilename:
	default:
		return fmt.Errorf("%w: unknown search mode %q", ErrInvalidRequest, r.Mode)
	}
	return nil
}
