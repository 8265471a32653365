package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/ncertrag/pkg/config"
	"github.com/perbu/ncertrag/pkg/embedder"
	"github.com/perbu/ncertrag/pkg/index"
	"github.com/perbu/ncertrag/pkg/index/qdrant"
	"github.com/perbu/ncertrag/pkg/loader"
	"github.com/perbu/ncertrag/pkg/rag"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		PDFDir:    filepath.Join(dir, "pdfs"),
		Provider:  config.ProviderConfig{APIKeyEnv: "NCERT_APP_TEST_KEY", Timeout: 5 * time.Second},
		Embedding: config.EmbeddingConfig{Provider: "hash", Model: "m", BatchSize: 10, Concurrency: 1, FallbackDim: 256, ProbeText: "sample text"},
		Generation: config.GenerationConfig{
			Model: "gpt-4o-mini",
		},
		Chunking:  config.ChunkingConfig{Size: 1000, OverlapSentences: 3},
		Retrieval: config.RetrievalConfig{TopK: 2},
		Index: config.IndexConfig{
			Backend:    "flat",
			Path:       filepath.Join(dir, "data", "chunks_index.gob"),
			ChunksPath: filepath.Join(dir, "data", "chunks.gob"),
		},
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("NCERT_APP_TEST_KEY", "")

	e, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.Equal(t, "hash-256", e.ModelInfo())

	cfg.Embedding.RequestsPerMinute = 60
	e, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedder.RateLimited{}, e)

	cfg.Embedding.Provider = "openai"
	_, err = NewEmbedder(cfg)
	assert.ErrorIs(t, err, config.ErrMissingCredential)

	t.Setenv("NCERT_APP_TEST_KEY", "sk-test")
	e, err = NewEmbedder(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai-m", e.ModelInfo())
}

func TestNewBuilder_MissingFolder(t *testing.T) {
	cfg := testConfig(t)
	b, closer, err := NewBuilder(cfg, nil)
	require.NoError(t, err)
	defer closer()

	_, err = b.Run(context.Background(), cfg.PDFDir, Paths(cfg))
	assert.ErrorIs(t, err, loader.ErrFolderNotFound)
}

func TestNewAnswerer_MissingArtifacts(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("NCERT_APP_TEST_KEY", "sk-test")

	_, _, err := NewAnswerer(context.Background(), cfg, 0, nil)
	assert.ErrorIs(t, err, rag.ErrArtifactsNotFound)
}

func TestNewAnswerer_MissingKey(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("NCERT_APP_TEST_KEY", "")

	_, _, err := NewAnswerer(context.Background(), cfg, 0, nil)
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestNewAnswerer_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Plants make food from sunlight."},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Provider.BaseURL = srv.URL
	t.Setenv("NCERT_APP_TEST_KEY", "sk-test")

	ctx := context.Background()
	hash := embedder.NewHashEmbedder(256)
	texts := []string{"photosynthesis makes food in leaves", "the water cycle moves rain", "tectonic plates cause earthquakes"}
	vecs, err := hash.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	flat, err := index.NewFlat(256)
	require.NoError(t, err)
	chunks := make([]rag.Chunk, len(texts))
	for i, text := range texts {
		index.Normalize(vecs[i])
		chunks[i] = rag.Chunk{Source: "science.pdf", Text: text}
	}
	require.NoError(t, flat.Add(ctx, vecs))
	require.NoError(t, rag.SaveArtifacts(Paths(cfg), flat, chunks))

	a, closer, err := NewAnswerer(ctx, cfg, 0, nil)
	require.NoError(t, err)
	defer closer()

	ans := a.Ask(ctx, "How do leaves make food by photosynthesis?")
	require.NoError(t, ans.Err)
	assert.Equal(t, "Plants make food from sunlight.", ans.Text)
	require.Len(t, ans.Results, 2)
	assert.Equal(t, texts[0], ans.Results[0].Chunk.Text)
}

func TestOpenError(t *testing.T) {
	missing := fmt.Errorf("%w: ncert_chunks", qdrant.ErrCollectionNotFound)
	assert.ErrorIs(t, openError(missing), rag.ErrArtifactsNotFound)

	down := errors.New("qdrant: list collections: connection refused")
	err := openError(down)
	assert.Same(t, down, err)
	assert.NotErrorIs(t, err, rag.ErrArtifactsNotFound)
}

func TestOpenIndex_QdrantUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Backend = "qdrant"
	cfg.Index.Qdrant = config.QdrantConfig{Host: "127.0.0.1", Port: 1, Collection: "ncert_chunks"}
	require.NoError(t, rag.SaveChunks(cfg.Index.ChunksPath, []rag.Chunk{{Source: "a.pdf", Text: "x"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _, _, err := OpenIndex(ctx, cfg, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, rag.ErrArtifactsNotFound)
}
