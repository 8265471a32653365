package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/ncertrag/pkg/rag"
)

type askFunc func(ctx context.Context, q string) rag.Answer

func (f askFunc) Ask(ctx context.Context, q string) rag.Answer { return f(ctx, q) }

func TestIsExit(t *testing.T) {
	for _, line := range []string{"", "   ", "exit", "QUIT", " Exit \n"} {
		assert.True(t, IsExit(line), "%q", line)
	}
	for _, line := range []string{"exits", "what is quit?", "q"} {
		assert.False(t, IsExit(line), "%q", line)
	}
}

func TestRun_AnswersUntilSentinel(t *testing.T) {
	var asked []string
	asker := askFunc(func(_ context.Context, q string) rag.Answer {
		asked = append(asked, q)
		return rag.Answer{
			Text:    "answer to " + q,
			Results: []rag.Result{{Chunk: rag.Chunk{Source: "bio.pdf"}, Score: 0.91, Rank: 1}},
		}
	})

	var out bytes.Buffer
	err := Run(context.Background(), strings.NewReader("  what is a cell?  \nwhy is the sky blue?\nquit\nnever asked\n"), &out, asker)
	require.NoError(t, err)
	assert.Equal(t, []string{"what is a cell?", "why is the sky blue?"}, asked)
	assert.Contains(t, out.String(), "Answer: answer to what is a cell?")
	assert.Contains(t, out.String(), "[1] 0.910  bio.pdf")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRun_EmptyLineEnds(t *testing.T) {
	calls := 0
	asker := askFunc(func(context.Context, string) rag.Answer { calls++; return rag.Answer{} })
	require.NoError(t, Run(context.Background(), strings.NewReader("\nhello\n"), &bytes.Buffer{}, asker))
	assert.Zero(t, calls)
}

func TestRun_EOF(t *testing.T) {
	calls := 0
	asker := askFunc(func(context.Context, string) rag.Answer { calls++; return rag.Answer{Text: "ok"} })
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), strings.NewReader("one question"), &out, asker))
	assert.Equal(t, 1, calls)
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRun_RecoversAndContinues(t *testing.T) {
	asker := askFunc(func(_ context.Context, q string) rag.Answer {
		switch q {
		case "panic":
			panic("index corrupted")
		case "fail":
			err := errors.New("provider down")
			return rag.Answer{Text: "Error: " + err.Error(), Err: err}
		}
		return rag.Answer{Text: "fine"}
	})

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), strings.NewReader("panic\nfail\nok\nexit\n"), &out, asker))
	assert.Contains(t, out.String(), "Error: unexpected failure: index corrupted")
	assert.Contains(t, out.String(), "Error: provider down")
	assert.Contains(t, out.String(), "Answer: fine")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	asker := askFunc(func(context.Context, string) rag.Answer { calls++; return rag.Answer{} })
	require.NoError(t, Run(ctx, strings.NewReader("question\n"), &bytes.Buffer{}, asker))
	assert.Zero(t, calls)
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	asker := askFunc(func(context.Context, string) rag.Answer { return rag.Answer{} })
	var out bytes.Buffer
	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, pr, &out, asker) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Contains(t, out.String(), "Goodbye!")
}
