// Package repl runs the line-oriented question loop.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/perbu/ncertrag/pkg/rag"
)

// Asker answers a single question
type Asker interface {
	Ask(ctx context.Context, question string) rag.Answer
}

// IsExit reports whether line ends the session: exit, quit or nothing.
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "exit", "quit":
		return true
	}
	return false
}

// SafeAsk calls asker and turns a panic into an error answer.
func SafeAsk(ctx context.Context, asker Asker, question string) (ans rag.Answer) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			ans = rag.Answer{Text: "Error: " + err.Error(), Err: err}
		}
	}()
	return asker.Ask(ctx, question)
}

// WriteAnswer prints an answer followed by the sources it was based on.
func WriteAnswer(out io.Writer, ans rag.Answer) {
	fmt.Fprintf(out, "\nAnswer: %s\n", ans.Text)
	if len(ans.Results) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, r := range ans.Results {
			fmt.Fprintf(out, "  [%d] %.3f  %s\n", r.Rank, r.Score, r.Chunk.Source)
		}
	}
	fmt.Fprintln(out)
}

// Run reads questions from in until a sentinel, EOF or cancellation and
// writes answers to out. A failing question never ends the session.
// Cancellation is noticed while waiting for input too.
func Run(ctx context.Context, in io.Reader, out io.Writer, asker Asker) error {
	fmt.Fprintln(out, "NCERT assistant ready. Type 'exit' or 'quit' to end the session.")
	fmt.Fprintln(out)

	done := make(chan struct{})
	defer close(done)
	lines, errc := readLines(in, done)
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		}
		fmt.Fprint(out, "Your question: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out, "\nGoodbye!")
			return <-errc
		}
		if IsExit(line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		fmt.Fprintln(out, "Thinking...")
		WriteAnswer(out, SafeAsk(ctx, asker, strings.TrimSpace(line)))
	}
}

// readLines scans in on its own goroutine. lines is closed at EOF or on a
// read error, after which errc yields the scanner error. The goroutine stops
// handing out lines once done is closed.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
