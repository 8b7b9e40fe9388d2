// Package cli provides CLI utilities for Contrail.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/contrail-search/contrail/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results for %q in %dms\n\n",
		response.TotalResults, response.Query, response.QueryTime)
	for _, result := range response.Results {
		fmt.Fprintf(w, "%3d. %-40s score=%.4f  %s\n",
			result.Rank, result.Filename, result.SimilarityScore, result.Path)
	}
	if response.TotalResults == 0 {
		fmt.Fprintln(w, "No matching images. Has the photo library been ingested?")
	}
}
