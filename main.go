package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"tableqa/cmd"
	"tableqa/internal/app"
	"tableqa/internal/config"
	"tableqa/internal/fence"
	"tableqa/internal/mdtable"
	"tableqa/internal/observability"
	"tableqa/internal/orchestrator"
	"tableqa/internal/repair"
)

const (
	maxTableRows = 15
)

var logger *slog.Logger

// setupLogger creates and configures the application logger. The TUI owns
// stdout, so unless stderr is requested logs go to <data-dir>/tableqa.log.
func setupLogger(c config.Config, stderr bool) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if !stderr {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		logPath := filepath.Join(c.DataDir, "tableqa.log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = logFile
		closeFn = func() { _ = logFile.Close() }
	}

	logger = observability.NewLogger(c, w)
	logger.Info("Application started", "version", "1.0", "data_dir", c.DataDir, "catalog", c.CatalogPath)
	return logger, closeFn, nil
}

// renderMarkdown renders markdown content with glamour for beautiful display
func renderMarkdown(content string, width int) (string, error) {
	// Account for borders, padding, and glamour's internal gutter
	const glamourGutter = 2
	const borderWidth = 4

	renderWidth := width - borderWidth - glamourGutter
	if renderWidth < 40 {
		renderWidth = 40
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}

type mode int

const (
	askMode mode = iota
	// sessionMode sends input straight into an exhausted repair session.
	sessionMode
)

// entry is one block of the conversation history. Markdown goes through
// glamour; chart is pre-rendered and appended as is.
type entry struct {
	markdown string
	chart    string
}

type model struct {
	orch          *orchestrator.Orchestrator
	mode          mode
	input         textinput.Model
	spinner       spinner.Model
	viewport      viewport.Model
	history       []entry
	session       *repair.Session
	lastQuery     string
	width         int
	height        int
	err           error
	status        string
	loading       bool
	viewportReady bool
}

type answerMsg struct {
	question string
	resp     orchestrator.Response
	err      error
}

type sessionReplyMsg struct {
	reply string
	err   error
}

func askQuestion(orch *orchestrator.Orchestrator, question string) tea.Cmd {
	return func() tea.Msg {
		resp, err := orch.Ask(context.Background(), question)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func sendToSession(s *repair.Session, text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := s.Send(context.Background(), text)
		return sessionReplyMsg{reply: reply, err: err}
	}
}

func initialModel(orch *orchestrator.Orchestrator) model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about your tables..."
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	return model{
		orch:     orch,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 6

		// Reserve lines for header, status, input box and help
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 9
		m.viewportReady = true
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case answerMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			if logger != nil {
				logger.Error("Question failed", "error", msg.err, "question", msg.question)
			}
			return m, nil
		}
		m.err = nil
		m.appendResponse(msg.resp)
		if logger != nil {
			logger.Info("Question finished", "outcome", msg.resp.Kind.String(), "attempts", msg.resp.Attempts)
		}
		return m, nil

	case sessionReplyMsg:
		m.loading = false
		if msg.err != nil {
			m.err = fmt.Errorf("repair session: %w", msg.err)
			return m, nil
		}
		m.err = nil
		if q := fence.ExtractQuery(msg.reply); q.Found {
			m.lastQuery = q.Content
			m.status = "Proposed query captured; Ctrl+Y copies it"
		}
		m.history = append(m.history, entry{markdown: msg.reply})
		m.refreshViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		if m.mode == sessionMode {
			m.mode = askMode
			m.session = nil
			m.status = "Left the repair session"
			m.input.Placeholder = "Ask a question about your tables..."
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyCtrlY:
		if m.lastQuery == "" {
			m.status = "No query to copy yet"
			return m, nil
		}
		if err := clipboard.WriteAll(m.lastQuery); err != nil {
			m.err = fmt.Errorf("copy failed: %w", err)
			return m, nil
		}
		m.status = "Copied SQL to clipboard"
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.loading {
			return m, nil
		}
		m.input.SetValue("")
		m.err = nil
		m.status = ""
		m.loading = true

		prefix := "**You:** "
		if m.mode == sessionMode {
			prefix = "**You (repair session):** "
		}
		m.history = append(m.history, entry{markdown: prefix + text})
		m.refreshViewport()

		if m.mode == sessionMode && m.session != nil {
			return m, tea.Batch(m.spinner.Tick, sendToSession(m.session, text))
		}
		return m, tea.Batch(m.spinner.Tick, askQuestion(m.orch, text))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// appendResponse records a finished question. Exhaustion hands the live
// repair session to the user.
func (m *model) appendResponse(resp orchestrator.Response) {
	if resp.Query != "" {
		m.lastQuery = resp.Query
	}

	var b strings.Builder
	switch resp.Kind {
	case orchestrator.Answered:
		b.WriteString(resp.Text)
		b.WriteString("\n\n```sql\n" + resp.Query + "\n```\n\n")
		if resp.Rows != nil {
			b.WriteString(mdtable.Render(resp.Rows.Columns, resp.Rows.Rows, mdtable.Options{MaxRows: maxTableRows}))
		}
		if resp.Attempts > 0 {
			fmt.Fprintf(&b, "\n_Repaired in %d round(s)._\n", resp.Attempts)
		}
		m.history = append(m.history, entry{markdown: b.String(), chart: ResultChart(resp.Rows, 40)})

	default:
		fmt.Fprintf(&b, "**No working query after %d repair round(s).**\n\n", resp.Attempts)
		if resp.Diagnostic != "" {
			b.WriteString(resp.Diagnostic + "\n\n")
		}
		if resp.Query != "" {
			b.WriteString("Last query:\n\n```sql\n" + resp.Query + "\n```\n\n")
		}
		for _, e := range resp.Errors {
			b.WriteString("- " + e.Message + "\n")
		}
		if resp.Session != nil {
			m.mode = sessionMode
			m.session = resp.Session
			m.input.Placeholder = "Talk to the repair session (Esc to leave)..."
			b.WriteString("\nYou are now talking to the repair session directly.\n")
		}
		m.history = append(m.history, entry{markdown: b.String()})
	}
	m.refreshViewport()
}

func (m *model) refreshViewport() {
	if !m.viewportReady {
		return
	}
	var b strings.Builder
	for _, e := range m.history {
		rendered, err := renderMarkdown(e.markdown, m.width)
		if err != nil {
			rendered = e.markdown + "\n"
		}
		b.WriteString(rendered)
		if e.chart != "" {
			b.WriteString(e.chart)
			b.WriteString("\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62"))
	title := "📊 TableQA"
	if m.mode == sessionMode {
		title += "  (repair session)"
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	if m.viewportReady {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + statusStyle.Render(" Working..."))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓ " + m.status))
		b.WriteString("\n")
	}

	if m.err != nil {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
		b.WriteString(errorStyle.Render(fmt.Sprintf("❌ Error: %v", m.err)))
		b.WriteString("\n")
	}

	inputStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)
	b.WriteString(inputStyle.Render(m.input.View()))
	b.WriteString("\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	help := "Enter: Ask | ↑/↓/PgUp/PgDn: Scroll | Ctrl+Y: Copy SQL | Esc/Ctrl+C: Quit"
	if m.mode == sessionMode {
		help = "Enter: Send to session | Ctrl+Y: Copy SQL | Esc: Leave session | Ctrl+C: Quit"
	}
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// launchTUI starts the interactive TUI application
func launchTUI(a *app.App) error {
	fmt.Println("\n📊 TableQA Configuration:")
	fmt.Printf("   • Catalog: %s (%d tables)\n", a.Config.CatalogPath, len(a.Catalog.Tables))
	fmt.Printf("   • Engine: %s, dialect %s\n", a.Config.Engine, a.Dialect.Language)
	fmt.Printf("   • Backend: %s, up to %d repair rounds\n", a.Config.Backend, a.Orchestrator.MaxAttempts())
	fmt.Println()

	p := tea.NewProgram(
		initialModel(a.Orchestrator),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	return err
}

func main() {
	// Set up cmd package callbacks
	cmd.LaunchTUI = launchTUI
	cmd.StartServer = StartServer
	cmd.SetupLogger = setupLogger

	// Execute the CLI
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
