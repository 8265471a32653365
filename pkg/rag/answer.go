package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/perbu/ncertrag/pkg/generator"
)

// NoAnswer is what the model is told to say when the excerpts do not help.
const NoAnswer = "I don't have enough information from the NCERT textbook to answer this question"

// Answer is the outcome of one question. On failure Text holds a printable
// error message and Err the cause.
type Answer struct {
	Text    string
	Results []Result
	Err     error
}

// Answerer retrieves context for a question and asks the model
type Answerer struct {
	retriever *Retriever
	generator generator.Generator
	topK      int
	logger    *slog.Logger
}

// NewAnswerer creates an Answerer that retrieves topK chunks per question.
func NewAnswerer(r *Retriever, g generator.Generator, topK int, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{retriever: r, generator: g, topK: topK, logger: logger}
}

// Ask answers question. It never panics on provider errors and never retries.
func (a *Answerer) Ask(ctx context.Context, question string) Answer {
	results, err := a.retriever.Retrieve(ctx, question, a.topK)
	if err != nil {
		a.logger.Error("retrieval failed", "error", err)
		return Answer{Text: "Error: " + err.Error(), Err: err}
	}
	a.logger.Info("retrieved chunks", "count", len(results))
	for _, r := range results {
		a.logger.Debug("retrieved chunk", "rank", r.Rank, "score", r.Score, "source", r.Chunk.Source, "preview", preview(r.Chunk.Text, 50))
	}

	text, err := a.generator.Generate(ctx, BuildPrompt(question, results))
	if err != nil {
		a.logger.Error("generation failed", "error", err)
		return Answer{Text: "Error: " + err.Error(), Results: results, Err: err}
	}
	return Answer{Text: strings.TrimSpace(text), Results: results}
}

// BuildPrompt renders the question and retrieved excerpts into the model prompt.
func BuildPrompt(question string, results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		tag := fmt.Sprintf("[Source %d, Relevance: %.3f]", r.Rank, r.Score)
		if r.Chunk.Source != "" {
			tag += " (" + r.Chunk.Source + ")"
		}
		parts = append(parts, tag+"\n"+r.Chunk.Text)
	}

	var b strings.Builder
	b.WriteString("You are an NCERT assistant. Use the following textbook excerpts to answer the question clearly and factually.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)
	b.WriteString("CONTEXT FROM NCERT TEXTBOOK:\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("- Answer based only on the provided context\n")
	fmt.Fprintf(&b, "- If the context doesn't contain the answer, say %q\n", NoAnswer)
	b.WriteString("- Keep your answer clear and concise\n")
	b.WriteString("- Use simple language appropriate for students\n\n")
	b.WriteString("ANSWER:\n")
	return b.String()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
