// Package app turns a Config into ready-to-use build and question-answering pipelines.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/perbu/ncertrag/pkg/config"
	"github.com/perbu/ncertrag/pkg/embedder"
	"github.com/perbu/ncertrag/pkg/generator"
	"github.com/perbu/ncertrag/pkg/index"
	"github.com/perbu/ncertrag/pkg/index/qdrant"
	"github.com/perbu/ncertrag/pkg/loader"
	"github.com/perbu/ncertrag/pkg/rag"
)

// Paths returns where the build artifacts live.
func Paths(cfg *config.Config) rag.Paths {
	return rag.Paths{Index: cfg.Index.Path, Chunks: cfg.Index.ChunksPath}
}

// NewOpenAIClient creates a client for the configured endpoint. An empty
// base URL means the public OpenAI API.
func NewOpenAIClient(cfg *config.Config, apiKey string) *openai.Client {
	c := openai.DefaultConfig(apiKey)
	if cfg.Provider.BaseURL != "" {
		c.BaseURL = cfg.Provider.BaseURL
	}
	c.HTTPClient = &http.Client{Timeout: cfg.Provider.Timeout}
	return openai.NewClientWithConfig(c)
}

// NewEmbedder returns the configured embedder, rate limited when
// embedding.requests_per_minute is set. The hash embedder needs no API key.
func NewEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	var e embedder.Embedder
	switch cfg.Embedding.Provider {
	case "hash":
		e = embedder.NewHashEmbedder(cfg.Embedding.FallbackDim)
	case "openai":
		key, err := cfg.APIKey()
		if err != nil {
			return nil, err
		}
		e = embedder.NewOpenAIEmbedder(NewOpenAIClient(cfg, key), cfg.Embedding.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return embedder.NewRateLimited(e, cfg.Embedding.RequestsPerMinute), nil
}

// NewBuilder wires the loader, chunker, embedder and index backend. The
// returned close function releases the backend connection, if any.
func NewBuilder(cfg *config.Config, logger *slog.Logger) (*rag.Builder, func() error, error) {
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}

	factory := rag.IndexFactory(rag.FlatIndexFactory)
	closer := func() error { return nil }
	if cfg.Index.Backend == "qdrant" {
		q, err := qdrant.Dial(cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection)
		if err != nil {
			return nil, nil, err
		}
		factory = func(ctx context.Context, dim int) (index.Index, error) {
			if err := q.Reset(ctx, dim); err != nil {
				return nil, err
			}
			return q, nil
		}
		closer = q.Close
	}

	b := rag.NewBuilder(
		loader.New(nil, logger),
		loader.NewChunker(cfg.Chunking.Size, cfg.Chunking.OverlapSentences),
		emb,
		factory,
		rag.BuildOptions{
			BatchSize:   cfg.Embedding.BatchSize,
			Concurrency: cfg.Embedding.Concurrency,
			ProbeText:   cfg.Embedding.ProbeText,
			FallbackDim: cfg.Embedding.FallbackDim,
		},
		logger,
	)
	return b, closer, nil
}

// OpenIndex loads the chunk list and opens the configured index.
func OpenIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (index.Index, []rag.Chunk, func() error, error) {
	noop := func() error { return nil }
	if cfg.Index.Backend != "qdrant" {
		idx, chunks, err := rag.LoadArtifacts(ctx, Paths(cfg), logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return idx, chunks, noop, nil
	}

	chunks, err := rag.LoadChunks(cfg.Index.ChunksPath)
	if err != nil {
		return nil, nil, nil, err
	}
	q, err := qdrant.Dial(cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := q.Open(ctx); err != nil {
		q.Close()
		return nil, nil, nil, openError(err)
	}
	rag.CheckAlignment(ctx, q, chunks, logger)
	return q, chunks, q.Close, nil
}

// openError marks a missing collection as missing artifacts. Connection and
// server errors are returned unchanged.
func openError(err error) error {
	if errors.Is(err, qdrant.ErrCollectionNotFound) {
		return fmt.Errorf("%w: %w", rag.ErrArtifactsNotFound, err)
	}
	return err
}

// NewAnswerer loads the artifacts and wires the retriever and generator.
// Generation always needs the API key, so its absence fails here before
// anything is loaded.
func NewAnswerer(ctx context.Context, cfg *config.Config, topK int, logger *slog.Logger) (*rag.Answerer, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key, err := cfg.APIKey()
	if err != nil {
		return nil, nil, err
	}
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}
	idx, chunks, closer, err := OpenIndex(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	gen := generator.NewOpenAIGenerator(NewOpenAIClient(cfg, key), cfg.Generation.Model, float32(cfg.Generation.Temperature))
	if topK <= 0 {
		topK = cfg.Retrieval.TopK
	}
	logger.Info("ready", "chunks", len(chunks), "embedder", emb.ModelInfo(), "generator", gen.ModelInfo(), "top_k", topK)
	return rag.NewAnswerer(rag.NewRetriever(emb, idx, chunks, logger), gen, topK, logger), closer, nil
}
