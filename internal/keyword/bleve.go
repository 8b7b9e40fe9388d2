// Package keyword provides a Bleve index over image filenames, used for the
// filename search mode.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Hit is a single filename search match. ID is the vector index position of
// the image, encoded as a decimal string.
type Hit struct {
	ID    string
	Score float64
}

// FilenameIndex indexes image filenames and relative paths for word search.
type FilenameIndex struct {
	index bleve.Index
}

type filenameDoc struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// NewFilenameIndex creates or opens a Bleve index at path. An existing index
// is reused so incremental ingest does not re-index unchanged files.
func NewFilenameIndex(path string) (*FilenameIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open filename index: %w", openErr)
		}
		return &FilenameIndex{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming, so "747" and
	// "boeing" match exactly what the filename contains.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("filename", textFieldMapping)
	docMapping.AddFieldMappingsAt("path", textFieldMapping)
	im.AddDocumentMapping("image", docMapping)
	im.DefaultType = "image"
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create filename index: %w", err)
	}
	return &FilenameIndex{index: index}, nil
}

// Index stores one image under id. Underscores and dashes in the filename
// are normalized to spaces so "boeing_747-8.jpg" is searchable as
// "boeing 747 8".
func (f *FilenameIndex) Index(ctx context.Context, id, filename, relPath string) error {
	doc := filenameDoc{
		Filename: normalizeFilename(filename),
		Path:     normalizeFilename(relPath),
	}
	return f.index.Index(id, doc)
}

// Search runs a match query over filename and path fields and returns up to
// limit hits.
func (f *FilenameIndex) Search(ctx context.Context, query string, limit int) ([]*Hit, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("filename search failed: %w", err)
	}
	out := make([]*Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Close closes the underlying Bleve index.
func (f *FilenameIndex) Close() error {
	return f.index.Close()
}

func normalizeFilename(name string) string {
	replacer := strings.NewReplacer("_", " ", "-", " ", "/", " ", ".", " ")
	return replacer.Replace(name)
}
