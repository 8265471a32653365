package loader

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the soft upper bound on chunk length, in characters.
	DefaultChunkSize = 1000
	// DefaultOverlapSentences is how many trailing sentences seed the next chunk.
	DefaultOverlapSentences = 3
)

var blankLine = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Chunker splits document text into paragraph and sentence aware chunks
type Chunker struct {
	Size             int
	OverlapSentences int
}

// NewChunker returns a Chunker, falling back to defaults for non-positive values.
func NewChunker(size, overlapSentences int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlapSentences < 0 {
		overlapSentences = DefaultOverlapSentences
	}
	return Chunker{Size: size, OverlapSentences: overlapSentences}
}

// Split chunks text. Paragraphs that fit are emitted verbatim; longer ones are
// packed sentence by sentence, carrying the last OverlapSentences sentences into
// the next chunk. A single sentence longer than Size is never cut, so Size is a
// soft bound.
func (c Chunker) Split(text string) []string {
	var chunks []string
	for _, paragraph := range splitParagraphs(text) {
		if length(paragraph) <= c.Size {
			chunks = append(chunks, paragraph)
			continue
		}
		chunks = append(chunks, c.packSentences(SplitSentences(paragraph))...)
	}
	return chunks
}

func (c Chunker) packSentences(sentences []string) []string {
	var (
		chunks  []string
		current []string
		curLen  int
	)
	for _, s := range sentences {
		n := length(s)
		if curLen+n > c.Size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = tail(current, c.OverlapSentences)
			curLen = 0
			for _, kept := range current {
				curLen += length(kept) + 1
			}
		}
		current = append(current, s)
		curLen += n + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// SplitSentences cuts text after '.', '!' or '?' when whitespace follows.
// This is a punctuation heuristic: abbreviations such as "e.g. " end a
// sentence early, while "3.14" stays whole only because no space follows the dot.
func SplitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i
		for i < len(text) {
			ws, wsize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(ws) {
				break
			}
			i += wsize
		}
		if i == end {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = i
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func tail(s []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]string(nil), s...)
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
