package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrFolderNotFound is returned when the input folder does not exist.
var ErrFolderNotFound = errors.New("pdf folder not found")

// Document is the raw text extracted from one file
type Document struct {
	Name string // File name relative to the folder
	Text string
}

// Skipped records a file that could not be read
type Skipped struct {
	Name string
	Err  error
}

// Extractor pulls plain text out of a single file
type Extractor interface {
	Extract(path string) (string, error)
}

// Loader reads every PDF in a folder
type Loader struct {
	extractor Extractor
	logger    *slog.Logger
}

// New creates a Loader. A nil extractor selects the PDF extractor.
func New(extractor Extractor, logger *slog.Logger) *Loader {
	if extractor == nil {
		extractor = PDFExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{extractor: extractor, logger: logger}
}

// Load extracts the text of every .pdf file directly inside folder, in name order.
// Files that fail to extract are skipped and reported; they never abort the load.
func (l *Loader) Load(ctx context.Context, folder string) ([]Document, []Skipped, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
		}
		return nil, nil, fmt.Errorf("reading %s: %w", folder, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		docs    []Document
		skipped []Skipped
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		text, err := l.extractor.Extract(filepath.Join(folder, name))
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", name, "error", err)
			skipped = append(skipped, Skipped{Name: name, Err: err})
			continue
		}
		l.logger.Info("loaded document", "file", name, "chars", len(text))
		docs = append(docs, Document{Name: name, Text: text})
	}
	return docs, skipped, nil
}

// PDFExtractor extracts text page by page, one newline after each page.
type PDFExtractor struct{}

// Extract implements Extractor.
func (PDFExtractor) Extract(path string) (text string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d of %s: %w", i, filepath.Base(path), err)
		}
		if pageText == "" {
			continue
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	return b.String(), nil
}
