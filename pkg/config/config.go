// Package config loads settings from an optional YAML file and RAG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredential is returned when the API key variable is unset.
var ErrMissingCredential = errors.New("missing API key")

// Config holds all application configuration.
type Config struct {
	PDFDir     string           `mapstructure:"pdf_dir"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Index      IndexConfig      `mapstructure:"index"`
	Log        LogConfig        `mapstructure:"log"`
}

// ProviderConfig points at an OpenAI-compatible API.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig selects the embedder and how a build batches requests.
type EmbeddingConfig struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	BatchSize         int    `mapstructure:"batch_size"`
	Concurrency       int    `mapstructure:"concurrency"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	ProbeText         string `mapstructure:"probe_text"`
	FallbackDim       int    `mapstructure:"fallback_dim"`
}

// GenerationConfig selects the chat model used for answers.
type GenerationConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// ChunkingConfig bounds chunk size and sentence overlap.
type ChunkingConfig struct {
	Size             int `mapstructure:"size"`
	OverlapSentences int `mapstructure:"overlap_sentences"`
}

// RetrievalConfig controls how many chunks back each answer.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// IndexConfig selects the index backend and artifact paths.
type IndexConfig struct {
	Backend    string       `mapstructure:"backend"`
	Path       string       `mapstructure:"path"`
	ChunksPath string       `mapstructure:"chunks_path"`
	Qdrant     QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig locates the Qdrant collection.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// LogConfig sets log level and handler format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pdf_dir", "data/pdfs")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("provider.timeout", "2m")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.concurrency", 1)
	v.SetDefault("embedding.requests_per_minute", 0)
	v.SetDefault("embedding.probe_text", "sample text")
	v.SetDefault("embedding.fallback_dim", 768)
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.temperature", 0.0)
	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap_sentences", 3)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("index.backend", "flat")
	v.SetDefault("index.path", "data/chunks_index.gob")
	v.SetDefault("index.chunks_path", "data/chunks.gob")
	v.SetDefault("index.qdrant.host", "localhost")
	v.SetDefault("index.qdrant.port", 6334)
	v.SetDefault("index.qdrant.collection", "ncert_chunks")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path, or from ./rag.yaml when path is empty
// and that file exists, then applies RAG_* environment overrides
// (RAG_EMBEDDING_MODEL, RAG_RETRIEVAL_TOP_K, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("rag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the tools cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("embedding.concurrency must be positive, got %d", c.Embedding.Concurrency))
	}
	if c.Embedding.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("embedding.requests_per_minute is negative: %d", c.Embedding.RequestsPerMinute))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.OverlapSentences < 0 {
		errs = append(errs, fmt.Errorf("chunking.overlap_sentences is negative: %d", c.Chunking.OverlapSentences))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	switch c.Index.Backend {
	case "flat", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// APIKey returns the key from the variable named by provider.api_key_env.
func (c *Config) APIKey() (string, error) {
	key := os.Getenv(c.Provider.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: set %s in the environment or a .env file", ErrMissingCredential, c.Provider.APIKeyEnv)
	}
	return key, nil
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
