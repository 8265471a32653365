package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/perbu/ncertrag/pkg/embedder"
	"github.com/perbu/ncertrag/pkg/index"
	"github.com/perbu/ncertrag/pkg/loader"
)

var (
	// ErrNothingToIndex means the folder produced no documents or no chunks.
	ErrNothingToIndex = errors.New("nothing to index")
	// ErrNoEmbeddings means every embedding batch failed.
	ErrNoEmbeddings = errors.New("no embeddings generated")
	// ErrMisaligned means the index size differs from the chunk count.
	ErrMisaligned = errors.New("index and chunk list are misaligned")
)

// DocumentLoader produces the documents of a folder
type DocumentLoader interface {
	Load(ctx context.Context, folder string) ([]loader.Document, []loader.Skipped, error)
}

// IndexFactory returns an empty index for vectors of dimension dim.
type IndexFactory func(ctx context.Context, dim int) (index.Index, error)

// FlatIndexFactory creates in-memory flat indexes.
func FlatIndexFactory(_ context.Context, dim int) (index.Index, error) {
	return index.NewFlat(dim)
}

// BuildOptions tune the embedding stage of a build
type BuildOptions struct {
	BatchSize   int
	Concurrency int
	ProbeText   string
	FallbackDim int
}

// DefaultBuildOptions returns batches of 10 embedded one at a time.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		BatchSize:   10,
		Concurrency: 1,
		ProbeText:   embedder.ProbeText,
		FallbackDim: embedder.DefaultDimension,
	}
}

// Builder turns a folder of documents into an index and its chunk list
type Builder struct {
	loader   DocumentLoader
	chunker  loader.Chunker
	embedder embedder.Embedder
	newIndex IndexFactory
	opts     BuildOptions
	logger   *slog.Logger
}

// NewBuilder creates a Builder. Zero options fall back to DefaultBuildOptions
// and a nil factory builds a flat index.
func NewBuilder(l DocumentLoader, c loader.Chunker, e embedder.Embedder, newIndex IndexFactory, opts BuildOptions, logger *slog.Logger) *Builder {
	def := DefaultBuildOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.ProbeText == "" {
		opts.ProbeText = def.ProbeText
	}
	if opts.FallbackDim <= 0 {
		opts.FallbackDim = def.FallbackDim
	}
	if newIndex == nil {
		newIndex = FlatIndexFactory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{loader: l, chunker: c, embedder: e, newIndex: newIndex, opts: opts, logger: logger}
}

type batchJob struct {
	source string
	number int
	texts  []string
}

// Build loads, chunks and embeds every document in folder and inserts the
// vectors into a fresh index. Chunk i of the returned list is vector i of the
// index. Failed batches are dropped together with their chunks and listed in
// the report.
//
// The dimension comes from a probe embedding. If the probe fails, the first
// successful batch in document order decides it and later batches of another
// dimension are skipped.
func (b *Builder) Build(ctx context.Context, folder string) (index.Index, []Chunk, BuildReport, error) {
	idx, chunks, report, err := b.build(ctx, folder)
	if err != nil {
		return nil, nil, report, err
	}
	return idx, chunks, report, nil
}

// build is Build, but on failure it also returns the index if one was
// already created, so Run can tell whether a remote index was touched.
func (b *Builder) build(ctx context.Context, folder string) (index.Index, []Chunk, BuildReport, error) {
	report := BuildReport{Model: b.embedder.ModelInfo()}

	docs, skippedFiles, err := b.loader.Load(ctx, folder)
	if err != nil {
		return nil, nil, report, err
	}
	report.Documents = len(docs)
	for _, s := range skippedFiles {
		report.Skipped = append(report.Skipped, Skipped{Kind: SkipFile, Source: s.Name, Err: s.Err})
	}
	if len(docs) == 0 {
		return nil, nil, report, fmt.Errorf("%w: no readable PDF files in %s", ErrNothingToIndex, folder)
	}

	dim, err := embedder.Probe(ctx, b.embedder, b.opts.ProbeText)
	if err != nil {
		b.logger.Warn("dimension probe failed, using first successful batch", "error", err)
		dim = 0
		report.Dimension = b.opts.FallbackDim
	} else {
		report.Dimension = dim
		b.logger.Info("vector dimension", "dim", dim, "model", report.Model)
	}

	jobs := b.plan(docs)
	if len(jobs) == 0 {
		return nil, nil, report, fmt.Errorf("%w: documents contain no text", ErrNothingToIndex)
	}

	vectors, failures, err := b.embed(ctx, jobs, dim)
	if err != nil {
		return nil, nil, report, err
	}

	var (
		chunks []Chunk
		all    [][]float32
	)
	for i, job := range jobs {
		if failures[i] == nil && dim == 0 {
			dim = len(vectors[i][0])
			report.Dimension = dim
			b.logger.Info("vector dimension from first batch", "dim", dim, "file", job.source, "batch", job.number)
		}
		if failures[i] == nil && len(vectors[i][0]) != dim {
			failures[i] = fmt.Errorf("%w: batch has %d, expected %d", index.ErrDimensionMismatch, len(vectors[i][0]), dim)
		}
		if failures[i] != nil {
			b.logger.Warn("skipping batch", "file", job.source, "batch", job.number, "chunks", len(job.texts), "error", failures[i])
			report.Skipped = append(report.Skipped, Skipped{
				Kind:   SkipBatch,
				Source: job.source,
				Batch:  job.number,
				Count:  len(job.texts),
				Err:    failures[i],
			})
			continue
		}
		for j, text := range job.texts {
			v := vectors[i][j]
			index.Normalize(v)
			chunks = append(chunks, Chunk{Source: job.source, Text: text})
			all = append(all, v)
		}
	}
	if len(all) == 0 {
		return nil, nil, report, ErrNoEmbeddings
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, report, err
	}

	idx, err := b.newIndex(ctx, dim)
	if err != nil {
		return nil, nil, report, fmt.Errorf("creating index: %w", err)
	}
	if err := idx.Add(ctx, all); err != nil {
		return idx, nil, report, fmt.Errorf("adding vectors: %w", err)
	}
	size, err := idx.Size(ctx)
	if err != nil {
		return idx, nil, report, fmt.Errorf("index size: %w", err)
	}
	if size != len(chunks) {
		return idx, nil, report, fmt.Errorf("%w: %d vectors, %d chunks", ErrMisaligned, size, len(chunks))
	}
	report.Chunks = len(chunks)
	return idx, chunks, report, nil
}

// Run builds the index and writes both artifacts. Nothing is written when
// the build fails or ctx is cancelled. If a build fails after an index that
// is not stored in a local file was reset, the chunk list on disk no longer
// matches it and is removed, so queries report missing artifacts.
func (b *Builder) Run(ctx context.Context, folder string, paths Paths) (BuildReport, error) {
	idx, chunks, report, err := b.build(ctx, folder)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if _, local := idx.(saver); idx != nil && !local {
			b.removeStaleChunks(paths.Chunks)
		}
		return report, err
	}
	if err := SaveArtifacts(paths, idx, chunks); err != nil {
		return report, err
	}
	b.logger.Info("index built",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"dim", report.Dimension,
		"skipped", len(report.Skipped),
		"chunks_path", paths.Chunks)
	return report, nil
}

func (b *Builder) removeStaleChunks(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		b.logger.Warn("removed chunk list of the previous build", "path", path)
	case !errors.Is(err, fs.ErrNotExist):
		b.logger.Error("could not remove stale chunk list", "path", path, "error", err)
	}
}

func (b *Builder) plan(docs []loader.Document) []batchJob {
	var jobs []batchJob
	for _, doc := range docs {
		pieces := b.chunker.Split(doc.Text)
		b.logger.Info("chunked document", "file", doc.Name, "chunks", len(pieces))
		for start := 0; start < len(pieces); start += b.opts.BatchSize {
			end := min(start+b.opts.BatchSize, len(pieces))
			jobs = append(jobs, batchJob{
				source: doc.Name,
				number: start/b.opts.BatchSize + 1,
				texts:  pieces[start:end],
			})
		}
	}
	return jobs
}

// embed runs every job with bounded concurrency. A failed batch is recorded
// in failures and does not stop the others; only cancellation does.
func (b *Builder) embed(ctx context.Context, jobs []batchJob, dim int) ([][][]float32, []error, error) {
	vectors := make([][][]float32, len(jobs))
	failures := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := b.embedder.EmbedBatch(gctx, job.texts)
			if err == nil {
				err = checkBatch(vecs, len(job.texts), dim)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			vectors[i] = vecs
			b.logger.Debug("embedded batch", "file", job.source, "batch", job.number)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectors, failures, nil
}

// checkBatch verifies one vector per text, all of the same non-zero length.
// A non-positive dim only requires the vectors to agree with each other.
func checkBatch(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("got %d vectors for %d chunks", len(vecs), want)
	}
	if want == 0 {
		return nil
	}
	if dim <= 0 {
		dim = len(vecs[0])
	}
	if dim == 0 {
		return errors.New("empty vectors")
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, expected %d", index.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}
