// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"askdb/internal/chat"
	"askdb/internal/history"
	"askdb/internal/types"

	"askdb/cmd/askdb/ui"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// chatEntry is one rendered line pair in the transcript.
type chatEntry struct {
	role    string // "user" or "askdb"
	content string
	time    time.Time
}

// Messages for tea updates
type (
	resultMsg types.ActionResult
	errorMsg  error
)

// chatModel is the main model for the interactive chat interface.
type chatModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles

	// State
	entries   []chatEntry
	isLoading bool
	err       error
	width     int
	height    int
	ready     bool

	// Session
	conversationID string
	turnCount      int
	pendingFile    *types.FileUpload

	// Backend
	engine *chat.Engine
	store  *history.Store
}

func initChat(engine *chat.Engine, store *history.Store) chatModel {
	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask about your data... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return chatModel{
		textinput:      ti,
		viewport:       vp,
		spinner:        sp,
		styles:         styles,
		entries:        []chatEntry{},
		conversationID: uuid.NewString(),
		engine:         engine,
		store:          store,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case resultMsg:
		m.isLoading = false
		m.turnCount++
		result := types.ActionResult(msg)
		m.entries = append(m.entries, chatEntry{
			role:    "askdb",
			content: m.formatResult(result),
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case errorMsg:
		m.isLoading = false
		m.err = msg
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

// handleSubmit sends the current input through the engine. Lines starting
// with "/" are local commands, not chat turns.
func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.entries = append(m.entries, chatEntry{role: "user", content: input, time: time.Now()})
	m.textinput.Reset()
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
	m.isLoading = true

	file := m.pendingFile
	m.pendingFile = nil

	return m, tea.Batch(m.spinner.Tick, m.processTurn(input, file))
}

// handleCommand runs local REPL commands: /file, /new, /quit.
func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	m.textinput.Reset()

	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/new":
		m.conversationID = uuid.NewString()
		m.entries = append(m.entries, chatEntry{
			role: "askdb", content: "Started a new conversation.", time: time.Now(),
		})

	case "/file":
		if len(fields) < 2 {
			m.entries = append(m.entries, chatEntry{
				role: "askdb", content: "Usage: /file <path.sql> then describe the import.", time: time.Now(),
			})
			break
		}
		content, err := os.ReadFile(fields[1])
		if err != nil {
			m.entries = append(m.entries, chatEntry{
				role: "askdb", content: fmt.Sprintf("Couldn't read %s: %v", fields[1], err), time: time.Now(),
			})
			break
		}
		m.pendingFile = &types.FileUpload{Filename: filepath.Base(fields[1]), Content: content}
		m.entries = append(m.entries, chatEntry{
			role: "askdb", content: fmt.Sprintf("Attached %s (%d bytes) to your next message.", fields[1], len(content)), time: time.Now(),
		})

	default:
		m.entries = append(m.entries, chatEntry{
			role: "askdb", content: "Commands: /file <path>, /new, /quit", time: time.Now(),
		})
	}

	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
	return m, nil
}

// processTurn runs the engine off the UI goroutine.
func (m chatModel) processTurn(message string, file *types.FileUpload) tea.Cmd {
	engine := m.engine
	store := m.store
	conversationID := m.conversationID

	return func() tea.Msg {
		ctx := context.Background()

		turn := newTurn(ctx, store, owner, conversationID, message)
		turn.File = file

		result := engine.ProcessTurn(ctx, turn)
		recordTurn(ctx, store, conversationID, owner, message, result)

		return resultMsg(result)
	}
}

// formatResult renders one ActionResult into transcript text.
func (m chatModel) formatResult(result types.ActionResult) string {
	var b strings.Builder

	if result.ActionType == types.ActionError {
		b.WriteString(m.styles.Error.Render(result.Message))
	} else {
		b.WriteString(result.Message)
	}

	if result.SQL != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.SQL.Render(result.SQL))
	}
	if rendered := renderResults(result); rendered != "" {
		b.WriteString("\n")
		b.WriteString(rendered)
	}
	return b.String()
}

func (m chatModel) renderTranscript() string {
	var b strings.Builder
	for _, entry := range m.entries {
		switch entry.role {
		case "user":
			b.WriteString(m.styles.Prompt.Render("you") + "  " + entry.content)
		default:
			b.WriteString(m.styles.Success.Render("askdb") + "\n" + m.styles.AgentResponse.Render(entry.content))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "loading..."
	}

	header := m.styles.Header.Render(fmt.Sprintf("AskDB %s", version))

	var status string
	if m.isLoading {
		status = m.spinner.View() + " thinking..."
	} else if m.err != nil {
		status = m.styles.Error.Render(fmt.Sprintf("error: %v", m.err))
	} else {
		pending := ""
		if m.pendingFile != nil {
			pending = fmt.Sprintf("  [file: %s]", m.pendingFile.Filename)
		}
		status = m.styles.Footer.Render(fmt.Sprintf("turns: %d%s  (/file, /new, /quit)", m.turnCount, pending))
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, m.viewport.View(), m.textinput.View(), status)
}

// runInteractiveChat builds the engine and starts the REPL.
func runInteractiveChat() error {
	engine, store, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	p := tea.NewProgram(initChat(engine, store), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat interface failed: %w", err)
	}
	return nil
}
