package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/perbu/ncertrag/pkg/rag"
	"github.com/perbu/ncertrag/pkg/repl"
)

// answerMsg carries a finished answer back to Update.
type answerMsg struct {
	question string
	answer   rag.Answer
}

type exchange struct {
	question string
	answer   rag.Answer
}

// Model is the Bubble Tea model for the question-answering screen.
type Model struct {
	ctx      context.Context
	asker    repl.Asker
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []exchange
	summary  string
	status   string
	busy     bool
	ready    bool
}

// New creates a new TUI model instance.
func New(ctx context.Context, asker repl.Asker, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your textbooks and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		asker:    asker,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		summary:  summary,
		status:   "Ready. Type 'exit' or 'quit' to leave.",
	}
}

// Run shows the TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, asker repl.Asker, summary string) error {
	p := tea.NewProgram(New(ctx, asker, summary), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := historyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		m.history = append(m.history, exchange{question: msg.question, answer: msg.answer})
		if msg.answer.Err != nil {
			m.status = "Failed to answer, see above."
		} else {
			m.status = fmt.Sprintf("Answered from %d sources.", len(msg.answer.Results))
		}
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if repl.IsExit(q) {
				return m, tea.Quit
			}
			m.input.Reset()
			m.busy = true
			m.status = fmt.Sprintf("Thinking about %q", q)
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{question: q, answer: repl.SafeAsk(m.ctx, m.asker, q)}
	}
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("NCERT Assistant")
	summary := dimStyle.Render(m.summary)
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + summary + "\n" +
		historyBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return dimStyle.Render("No questions yet.")
	}
	var b strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("Q: " + ex.question))
		b.WriteString("\n")
		if ex.answer.Err != nil {
			b.WriteString(errorStyle.Render(ex.answer.Text))
		} else {
			b.WriteString(ex.answer.Text)
		}
		for _, r := range ex.answer.Results {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(fmt.Sprintf("  [%d] score=%.3f  %s", r.Rank, r.Score, r.Chunk.Source)))
		}
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
