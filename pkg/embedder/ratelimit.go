package embedder

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces calls to an inner Embedder. It never retries.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows at most requestsPerMinute calls per minute with no
// burst. A non-positive rate returns inner unchanged.
func NewRateLimited(inner Embedder, requestsPerMinute int) Embedder {
	if requestsPerMinute <= 0 {
		return inner
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// Embed implements Embedder.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch implements Embedder.
func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

// ModelInfo implements Embedder.
func (r *RateLimited) ModelInfo() string { return r.inner.ModelInfo() }
