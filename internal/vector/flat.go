package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// vectorMagic identifies the binary vector artifact.
var vectorMagic = [4]byte{'C', 'T', 'I', 'X'}

// FlatIndex is an exact, exhaustive inner-product index. Vectors are
// L2-normalized on insert so inner product equals cosine similarity.
// Search cost is O(N*D) per query, which is the right trade-off for
// catalogues up to a few hundred thousand images.
//
// Reads (Search, Stats, Save) may run concurrently; Add and Load take the
// write lock and exclude everything else.
type FlatIndex struct {
	dims         int
	vectorPath   string
	metadataPath string

	mu      sync.RWMutex
	vectors [][]float32
	metas   []Meta
	loaded  bool
}

// NewFlatIndex creates an empty index with fixed dimensionality. vectorPath
// and metadataPath are where Save writes and Load reads the two snapshot
// artifacts.
func NewFlatIndex(dims int, vectorPath, metadataPath string) (*FlatIndex, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	return &FlatIndex{
		dims:         dims,
		vectorPath:   vectorPath,
		metadataPath: metadataPath,
		vectors:      make([][]float32, 0),
		metas:        make([]Meta, 0),
	}, nil
}

// Dimensions returns the fixed embedding dimensionality.
func (f *FlatIndex) Dimensions() int {
	return f.dims
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// MetaAt returns the metadata record at position i.
func (f *FlatIndex) MetaAt(i int) (Meta, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i < 0 || i >= len(f.metas) {
		return Meta{}, false
	}
	return f.metas[i], true
}

// Add normalizes and appends a batch of vectors with their metadata. The
// whole batch is validated before anything is stored, so a failed Add leaves
// the index unchanged. Metadata IDs are stored as supplied; callers that
// need globally unique IDs must assign them (the ingester numbers records
// from the index's current size).
func (f *FlatIndex) Add(vectors [][]float32, metas []Meta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata records",
			ErrBatchMismatch, len(vectors), len(metas))
	}
	for i, v := range vectors {
		if len(v) != f.dims {
			return fmt.Errorf("%w: vector %d has %d components, index expects %d",
				ErrDimensionMismatch, i, len(v), f.dims)
		}
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = Normalize(v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, normalized...)
	f.metas = append(f.metas, metas...)
	if len(f.vectors) > 0 {
		f.loaded = true
	}
	return nil
}

// Search returns the topK stored entries most similar to query, ranked by
// descending inner product. Exact ties keep insertion order, so results are
// deterministic for identical inputs. An empty index yields an empty slice.
func (f *FlatIndex) Search(query []float32, topK int) ([]Result, error) {
	if len(query) != f.dims {
		return nil, fmt.Errorf("%w: query has %d components, index expects %d",
			ErrDimensionMismatch, len(query), f.dims)
	}
	if topK < 1 {
		return nil, fmt.Errorf("top_k must be at least 1, got %d", topK)
	}
	q := Normalize(query)

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.vectors) == 0 {
		return []Result{}, nil
	}

	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(f.vectors))
	for i, v := range f.vectors {
		scores[i] = scored{pos: i, score: InnerProduct(q, v)}
	}
	// SliceStable keeps ascending insertion order for equal scores.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if topK > len(scores) {
		topK = len(scores)
	}
	results := make([]Result, topK)
	for i := 0; i < topK; i++ {
		results[i] = Result{
			Meta:            f.metas[scores[i].pos],
			SimilarityScore: scores[i].score,
			Rank:            i + 1,
		}
	}
	return results, nil
}

// Save writes the vector artifact and then the metadata artifact. Each file
// is written to a temp path and renamed, so a reader never sees a partial
// file; there is no cross-file transaction, callers must not Load while a
// Save is in flight.
func (f *FlatIndex) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	buf.Write(vectorMagic[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(f.dims)); err != nil {
		return fmt.Errorf("encode dimensions: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return fmt.Errorf("encode count: %w", err)
	}
	for _, v := range f.vectors {
		buf.Write(float32SliceToBytes(v))
	}
	if err := writeFileAtomic(f.vectorPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write vector artifact: %w", err)
	}

	data, err := json.MarshalIndent(f.metas, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeFileAtomic(f.metadataPath, data); err != nil {
		return fmt.Errorf("write metadata artifact: %w", err)
	}
	return nil
}

// Load reads both artifacts and replaces the in-memory collection. Both
// files are parsed and cross-checked before the swap, so any failure leaves
// the index in its prior state. A missing artifact yields ErrArtifactNotFound;
// a parse failure or a vector/metadata count mismatch yields ErrArtifactCorrupt.
func (f *FlatIndex) Load() error {
	vecData, err := os.ReadFile(f.vectorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, f.vectorPath)
		}
		return fmt.Errorf("read vector artifact: %w", err)
	}
	metaData, err := os.ReadFile(f.metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, f.metadataPath)
		}
		return fmt.Errorf("read metadata artifact: %w", err)
	}

	vectors, err := f.decodeVectors(vecData)
	if err != nil {
		return err
	}
	var metas []Meta
	if err := json.Unmarshal(metaData, &metas); err != nil {
		return fmt.Errorf("%w: parse metadata: %v", ErrArtifactCorrupt, err)
	}
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors but %d metadata entries",
			ErrArtifactCorrupt, len(vectors), len(metas))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = vectors
	f.metas = metas
	f.loaded = true
	return nil
}

func (f *FlatIndex) decodeVectors(data []byte) ([][]float32, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrArtifactCorrupt)
	}
	if magic != vectorMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrArtifactCorrupt, magic[:])
	}
	var dims, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrArtifactCorrupt)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrArtifactCorrupt)
	}
	if int(dims) != f.dims {
		return nil, fmt.Errorf("%w: artifact has dimension %d, index expects %d",
			ErrArtifactCorrupt, dims, f.dims)
	}
	// The count comes from the untrusted file; check it against the payload
	// actually present before allocating anything sized by it.
	if want := int64(count) * int64(f.dims) * 4; want != int64(r.Len()) {
		return nil, fmt.Errorf("%w: artifact claims %d vectors but holds %d payload bytes",
			ErrArtifactCorrupt, count, r.Len())
	}
	vectors := make([][]float32, 0, count)
	buf := make([]byte, f.dims*4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: truncated vector %d", ErrArtifactCorrupt, i)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	return vectors, nil
}

// Stats returns current counts and whether the index has ever held state
// (populated by Add or restored by a successful Load).
func (f *FlatIndex) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		TotalVectors:    len(f.vectors),
		EmbeddingDim:    f.dims,
		MetadataEntries: len(f.metas),
		IndexLoaded:     f.loaded,
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
