package rag

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/perbu/ncertrag/pkg/index"
)

// ErrArtifactsNotFound is returned when the index or chunk file is missing.
var ErrArtifactsNotFound = errors.New("index artifacts not found, run build-index first")

// chunkFile is the on-disk chunk list
type chunkFile struct {
	Chunks []Chunk
}

// saver is implemented by indexes that live in a local file.
type saver interface {
	Save(path string) error
}

// SaveArtifacts writes the chunk list and, for file-backed indexes, the index.
// Each file is replaced atomically.
func SaveArtifacts(paths Paths, idx index.Index, chunks []Chunk) error {
	if s, ok := idx.(saver); ok {
		if err := s.Save(paths.Index); err != nil {
			return fmt.Errorf("saving index to %s: %w", paths.Index, err)
		}
	}
	if err := SaveChunks(paths.Chunks, chunks); err != nil {
		return fmt.Errorf("saving chunks to %s: %w", paths.Chunks, err)
	}
	return nil
}

// SaveChunks writes the chunk list to path atomically.
func SaveChunks(path string, chunks []Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(chunkFile{Chunks: chunks}); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding chunks: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadChunks reads a chunk list written by SaveChunks.
func LoadChunks(path string) ([]Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactsNotFound, path)
		}
		return nil, err
	}
	defer file.Close()

	var cf chunkFile
	if err := gob.NewDecoder(file).Decode(&cf); err != nil {
		return nil, fmt.Errorf("decoding chunks %s: %w", path, err)
	}
	return cf.Chunks, nil
}

// LoadArtifacts reads the flat index and chunk list written by a build.
func LoadArtifacts(ctx context.Context, paths Paths, logger *slog.Logger) (*index.FlatIndex, []Chunk, error) {
	idx, err := index.LoadFlat(paths.Index)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactsNotFound, paths.Index)
		}
		return nil, nil, err
	}
	chunks, err := LoadChunks(paths.Chunks)
	if err != nil {
		return nil, nil, err
	}
	CheckAlignment(ctx, idx, chunks, logger)
	return idx, chunks, nil
}

// CheckAlignment warns when the index and chunk list differ in size. Retrieval
// still works; hits past the end of the chunk list are discarded.
func CheckAlignment(ctx context.Context, idx index.Index, chunks []Chunk, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	size, err := idx.Size(ctx)
	if err != nil {
		logger.Warn("could not read index size", "error", err)
		return
	}
	if size != len(chunks) {
		logger.Warn("index and chunk list sizes differ", "vectors", size, "chunks", len(chunks))
		return
	}
	logger.Info("loaded index", "chunks", len(chunks))
}
