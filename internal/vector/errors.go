package vector

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector presented to Add or
	// Search does not match the index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrBatchMismatch is returned when Add receives vector and metadata
	// batches of different lengths.
	ErrBatchMismatch = errors.New("vectors and metadata length mismatch")

	// ErrArtifactNotFound is returned by Load when one or both snapshot
	// artifacts are absent. The in-memory index is left unchanged.
	ErrArtifactNotFound = errors.New("index artifact not found")

	// ErrArtifactCorrupt is returned by Load when an artifact cannot be
	// parsed or the vector and metadata counts disagree.
	ErrArtifactCorrupt = errors.New("index artifact corrupt")
)
