package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/perbu/ncertrag/pkg/embedder"
	"github.com/perbu/ncertrag/pkg/index"
)

// Retriever finds the chunks closest to a query
type Retriever struct {
	embedder embedder.Embedder
	index    index.Index
	chunks   []Chunk
	logger   *slog.Logger
}

// NewRetriever creates a retriever over an index and its chunk list.
func NewRetriever(e embedder.Embedder, idx index.Index, chunks []Chunk, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: e, index: idx, chunks: chunks, logger: logger}
}

// Retrieve returns up to k results ordered by descending score. Rank is the
// hit's place in the index result, so ranks skip over hits whose position has
// no chunk.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", k)
	}
	q, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(q) == 0 {
		return nil, errors.New("embedding query: empty vector")
	}
	q = append([]float32(nil), q...)
	index.Normalize(q)

	hits, err := r.index.Search(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for i, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(r.chunks) {
			r.logger.Warn("discarding hit outside chunk list", "position", hit.Position, "chunks", len(r.chunks))
			continue
		}
		results = append(results, Result{
			Chunk: r.chunks[hit.Position],
			Score: hit.Score,
			Rank:  i + 1,
		})
	}
	return results, nil
}
