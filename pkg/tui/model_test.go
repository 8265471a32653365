package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/ncertrag/pkg/rag"
)

type askFunc func(ctx context.Context, q string) rag.Answer

func (f askFunc) Ask(ctx context.Context, q string) rag.Answer { return f(ctx, q) }

var enter = tea.KeyMsg{Type: tea.KeyEnter}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestEnter_AsksAsynchronously(t *testing.T) {
	asker := askFunc(func(_ context.Context, q string) rag.Answer {
		return rag.Answer{
			Text:    "Mitochondria.",
			Results: []rag.Result{{Chunk: rag.Chunk{Source: "biology.pdf"}, Score: 0.87, Rank: 1}},
		}
	})
	m := sized(t, New(context.Background(), asker, "3 chunks"))
	m.input.SetValue("powerhouse of the cell?")

	next, cmd := m.Update(enter)
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())

	// a second enter while busy is ignored
	_, cmd2 := m.Update(enter)
	assert.Nil(t, cmd2)

	msg := m.ask("powerhouse of the cell?")()
	next, _ = m.Update(msg)
	m = next.(Model)
	assert.False(t, m.busy)
	require.Len(t, m.history, 1)

	out := m.renderHistory()
	assert.Contains(t, out, "powerhouse of the cell?")
	assert.Contains(t, out, "Mitochondria.")
	assert.Contains(t, out, "biology.pdf")
	assert.Contains(t, m.status, "1 sources")
	assert.Contains(t, m.View(), "NCERT Assistant")
}

func TestEnter_Sentinels(t *testing.T) {
	for _, q := range []string{"", "exit", "Quit"} {
		m := sized(t, New(context.Background(), askFunc(func(context.Context, string) rag.Answer { return rag.Answer{} }), ""))
		m.input.SetValue(q)
		_, cmd := m.Update(enter)
		require.NotNil(t, cmd, q)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok, q)
	}
}

func TestAsk_PanicAndError(t *testing.T) {
	m := New(context.Background(), askFunc(func(context.Context, string) rag.Answer { panic("boom") }), "")
	msg := m.ask("q")().(answerMsg)
	assert.Error(t, msg.answer.Err)
	assert.Contains(t, msg.answer.Text, "boom")

	err := errors.New("provider down")
	m = sized(t, New(context.Background(), askFunc(func(context.Context, string) rag.Answer {
		return rag.Answer{Text: "Error: " + err.Error(), Err: err}
	}), ""))
	next, _ := m.Update(m.ask("q")())
	m = next.(Model)
	assert.Contains(t, m.renderHistory(), "provider down")
	assert.Contains(t, m.status, "Failed")
}

func TestView_BeforeResize(t *testing.T) {
	m := New(context.Background(), nil, "")
	assert.Equal(t, "Loading...", m.View())
}
