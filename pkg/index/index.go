// Package index holds the similarity index used for retrieval. Vectors are
// expected to be L2-normalized so that inner product equals cosine similarity.
package index

import (
	"context"
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is one search result: the position of the stored vector and its score.
type Hit struct {
	Position int
	Score    float32
}

// Index is an append-only nearest-neighbor index searched by inner product.
// The vector added n-th is reported at position n.
type Index interface {
	// Add appends vectors in order.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns at most k hits ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Size returns the number of stored vectors.
	Size(ctx context.Context) (int, error)
}

// Normalize scales v to unit length in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) < 1e-7 {
		return
	}
	inv := 1 / norm
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// Dot returns the inner product of a and b, which must have equal length.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
