// Package tui implements the interactive intake chat screen.
package tui

import (
	"context"
	"strings"
	"time"

	"medintake/internal/chat"
	"medintake/internal/fields"
	"medintake/internal/session"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// Sender runs one message through the intake pipeline.
type Sender interface {
	Send(ctx context.Context, sessionID, message string) (chat.Reply, error)
}

// Config holds configuration for the chat screen.
type Config struct {
	Sender Sender
	// SessionID resumes a conversation. Empty starts a new one.
	SessionID string
	// Required lists the fields shown as pending until collected.
	Required []fields.CanonicalField
	// TurnTimeout bounds one Send call.
	TurnTimeout time.Duration
}

// Message is one line of the transcript.
type Message struct {
	Role           string // "user" or "assistant"
	Content        string
	Action         session.Action
	Confidence     float64
	ConsultationID int64
	Time           time.Time
}

type replyMsg struct {
	reply chat.Reply
	err   error
}

const (
	headerHeight  = 1
	footerHeight  = 1
	inputHeight   = 3
	paddingHeight = 2
	panelWidth    = 34
)

// Model is the bubbletea model of the chat screen.
type Model struct {
	cfg       Config
	sessionID string
	history   []Message
	collected fields.Record
	progress  session.Progression
	lastConf  float64

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles

	width     int
	height    int
	ready     bool
	isLoading bool
	err       error
}

// New creates the chat model.
func New(cfg Config) Model {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = time.Minute
	}
	styles := DefaultStyles()

	ta := textarea.New()
	ta.Placeholder = "Digite sua mensagem... (Enter envia, Ctrl+N nova conversa, Ctrl+C sai)"
	ta.Focus()
	ta.Prompt = "| "
	ta.CharLimit = 4096
	ta.ShowLineNumbers = false
	ta.SetHeight(1)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		cfg:       cfg,
		sessionID: cfg.SessionID,
		collected: fields.Record{},
		textarea:  ta,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		styles:    styles,
	}
	m.renderer = newRenderer(styles.IsDark, 76)
	m.history = append(m.history, Message{
		Role:    "assistant",
		Content: "Olá! Vou ajudar você a agendar sua consulta. Pode me dizer seu **nome**, **telefone** e a **data** desejada?",
		Action:  session.ActionAsk,
		Time:    time.Now(),
	})
	return m
}

func newRenderer(dark bool, width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	style := glamour.WithStylePath("light")
	if dark {
		style = glamour.WithStylePath("dark")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

// SessionID returns the current conversation ID.
func (m Model) SessionID() string { return m.sessionID }

// History returns the transcript.
func (m Model) History() []Message { return m.history }

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) send(text string) tea.Cmd {
	sender, id, timeout := m.cfg.Sender, m.sessionID, m.cfg.TurnTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		r, err := sender.Send(ctx, id, text)
		return replyMsg{reply: r, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		chatWidth := msg.Width - panelWidth - 4
		if chatWidth < 20 {
			chatWidth = msg.Width - 2
		}
		if chatWidth < 1 {
			chatWidth = 1
		}
		calcHeight := msg.Height - headerHeight - footerHeight - inputHeight - paddingHeight
		if calcHeight < 1 {
			calcHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(chatWidth, calcHeight)
			m.ready = true
		} else {
			m.viewport.Width = chatWidth
			m.viewport.Height = calcHeight
		}
		m.textarea.SetWidth(msg.Width - 4)
		m.renderer = newRenderer(m.styles.IsDark, chatWidth-4)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlN:
			if m.isLoading {
				return m, nil
			}
			m.sessionID = ""
			m.collected = fields.Record{}
			m.progress = ""
			m.lastConf = 0
			m.err = nil
			m.history = append(m.history, Message{
				Role:    "assistant",
				Content: "Nova conversa iniciada. Como posso ajudar?",
				Action:  session.ActionAsk,
				Time:    time.Now(),
			})
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" || m.isLoading {
				return m, nil
			}
			m.textarea.Reset()
			m.history = append(m.history, Message{Role: "user", Content: text, Time: time.Now()})
			m.isLoading = true
			m.err = nil
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.send(text))
		}

	case replyMsg:
		m.isLoading = false
		if msg.err != nil {
			m.err = msg.err
			m.refresh()
			return m, nil
		}
		r := msg.reply
		m.sessionID = r.SessionID
		if r.Extracted != nil {
			m.collected = r.Extracted.Clone()
		}
		m.progress = r.Progression
		m.lastConf = r.Confidence
		content := r.Response
		if r.Err != "" {
			content += "\n\n_" + r.Err + "_"
		}
		m.history = append(m.history, Message{
			Role:           "assistant",
			Content:        content,
			Action:         r.Action,
			Confidence:     r.Confidence,
			ConsultationID: r.ConsultationID,
			Time:           time.Now(),
		})
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.isLoading {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}
		return m, nil
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// refresh re-renders the transcript into the viewport.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}
