// Package rag builds the chunk index from a folder of PDFs and answers
// questions against it.
package rag

import "fmt"

// Chunk is a piece of a document. Its position in the chunk list is the
// position of its vector in the index.
type Chunk struct {
	Source string // File name the text came from
	Text   string
}

// Result is a single retrieval result
type Result struct {
	Chunk Chunk
	Score float32 // Inner product of the normalized query and chunk vectors
	Rank  int     // 1-based position in the index's hit list
}

// SkipKind says what was dropped during a build
type SkipKind string

const (
	SkipFile  SkipKind = "file"
	SkipBatch SkipKind = "batch"
)

// Skipped records a file or embedding batch left out of the index
type Skipped struct {
	Kind   SkipKind
	Source string
	Batch  int // 1-based batch number within Source, zero for files
	Count  int // Chunks lost
	Err    error
}

func (s Skipped) String() string {
	if s.Kind == SkipFile {
		return fmt.Sprintf("file %s: %v", s.Source, s.Err)
	}
	return fmt.Sprintf("%s batch %d (%d chunks): %v", s.Source, s.Batch, s.Count, s.Err)
}

// BuildReport summarizes a finished build
type BuildReport struct {
	Documents int
	Chunks    int
	Dimension int
	Model     string
	Skipped   []Skipped
}

// Paths locates the two build artifacts on disk
type Paths struct {
	Index  string
	Chunks string
}
