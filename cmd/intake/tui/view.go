package tui

import (
	"fmt"
	"strings"

	"medintake/internal/fields"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	chatView := m.styles.Content.Render(m.viewport.View())
	if m.width-panelWidth-4 >= 20 {
		chatView = lipgloss.JoinHorizontal(lipgloss.Top, chatView, m.renderPanel())
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		chatView,
		m.styles.Input.Render(m.textarea.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	id := m.sessionID
	if id == "" {
		id = "nova conversa"
	} else if len(id) > 8 {
		id = id[:8]
	}
	return m.styles.Header.Render(fmt.Sprintf(" intake  ·  %s ", id))
}

func (m Model) renderFooter() string {
	if m.isLoading {
		return m.styles.Footer.Render(m.spinner.View() + " processando...")
	}
	if m.err != nil {
		return m.styles.Error.Render("Erro: " + m.err.Error())
	}
	return m.styles.Footer.Render("Enter: enviar  Ctrl+N: nova conversa  Ctrl+C: sair")
}

// renderPanel shows collected and pending fields next to the transcript.
func (m Model) renderPanel() string {
	var b strings.Builder
	b.WriteString(m.styles.Assistant.Render("Dados coletados"))
	b.WriteString("\n")
	for _, f := range m.collected.Ordered() {
		b.WriteString(m.styles.Field.Render(fmt.Sprintf("✓ %s: %s", f.Label(), truncate(m.collected[f], panelWidth-8-len(f.Label())))))
		b.WriteString("\n")
	}
	for _, f := range fields.Missing(m.cfg.Required, m.collected) {
		b.WriteString(m.styles.Missing.Render("• " + f.Label()))
		b.WriteString("\n")
	}
	if m.lastConf > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("confiança %.0f%%", m.lastConf*100)))
	}
	if m.progress != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("ordem: " + string(m.progress)))
	}
	return m.styles.Panel.Width(panelWidth - 4).Render(b.String())
}

func (m Model) renderHistory() string {
	var b strings.Builder
	for i, msg := range m.history {
		if i > 0 {
			b.WriteString("\n")
		}
		if msg.Role == "user" {
			b.WriteString(m.styles.User.Render("Você"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
			b.WriteString("\n")
			continue
		}

		label := m.styles.Assistant.Render("Assistente")
		if msg.Action != "" {
			label += " " + m.styles.Action.Render("["+string(msg.Action)+"]")
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(m.renderMarkdown(msg.Content))
		if msg.ConsultationID != 0 {
			b.WriteString(m.styles.Booked.Render(fmt.Sprintf("✅ Consulta #%d agendada", msg.ConsultationID)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMarkdown(s string) string {
	if m.renderer == nil {
		return s + "\n"
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s + "\n"
	}
	return strings.TrimLeft(out, "\n")
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
