package index

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatIndex performs exact inner-product search over all stored vectors.
type FlatIndex struct {
	mu   sync.RWMutex
	dim  int
	data []float32 // row-major, dim floats per vector
}

// flatFile is the on-disk form of a FlatIndex.
type flatFile struct {
	Dim  int
	Data []float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	return &FlatIndex{dim: dim}, nil
}

// Dim returns the vector dimension.
func (f *FlatIndex) Dim() int { return f.dim }

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dim
}

// Add implements Index. Either all vectors are added or none.
func (f *FlatIndex) Add(_ context.Context, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d, index has %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search implements Index. Equal scores are ordered by position.
func (f *FlatIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	n := len(f.data) / f.dim
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Position: i, Score: Dot(f.data[i*f.dim:(i+1)*f.dim], query)}
	}
	f.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Size implements Index.
func (f *FlatIndex) Size(_ context.Context) (int, error) {
	return f.Len(), nil
}

// Save writes the index to path atomically.
func (f *FlatIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(flatFile{Dim: f.dim, Data: f.data}); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFlat reads an index written by Save. A missing file yields an error
// matching fs.ErrNotExist.
func LoadFlat(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ff flatFile
	if err := gob.NewDecoder(file).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if ff.Dim <= 0 || len(ff.Data)%ff.Dim != 0 {
		return nil, fmt.Errorf("corrupt index %s: %d floats for dimension %d", path, len(ff.Data), ff.Dim)
	}
	return &FlatIndex{dim: ff.Dim, data: ff.Data}, nil
}

var _ Index = (*FlatIndex)(nil)
