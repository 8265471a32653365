package embedder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultDimension is reported when the dimension cannot be determined.
const DefaultDimension = 768

// ProbeText is embedded once per build to discover the vector dimension.
const ProbeText = "sample text"

// Embedder interface for generating embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelInfo() string
}

// Probe embeds text once and returns the vector length.
func Probe(ctx context.Context, e Embedder, text string) (int, error) {
	v, err := e.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("dimension probe: %w", err)
	}
	if len(v) == 0 {
		return 0, errors.New("dimension probe: empty vector")
	}
	return len(v), nil
}

// HashEmbedder is a deterministic offline embedder. Each lower-cased word is
// hashed into one of dim buckets, so texts sharing words score higher.
// It needs no network and no credentials.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dim: dimension}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	return vec, nil
}

// EmbedBatch implements Embedder.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ModelInfo implements Embedder.
func (e *HashEmbedder) ModelInfo() string {
	return fmt.Sprintf("hash-%d", e.dim)
}
