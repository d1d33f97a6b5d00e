package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary     = lipgloss.Color("#2196F3")
	Accent      = lipgloss.Color("#8BC34A")
	Muted       = lipgloss.Color("#6b7280")
	Border      = lipgloss.Color("#2a3850")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
	Success     = lipgloss.Color("#8BC34A")
)

// Styles holds the rendered styles of the chat screen.
type Styles struct {
	IsDark    bool
	Header    lipgloss.Style
	Footer    lipgloss.Style
	Content   lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Action    lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Booked    lipgloss.Style
	Field     lipgloss.Style
	Missing   lipgloss.Style
	Panel     lipgloss.Style
	Input     lipgloss.Style
	Spinner   lipgloss.Style
}

// DefaultStyles picks a dark or light palette from the environment.
func DefaultStyles() Styles {
	return NewStyles(detectDark())
}

// NewStyles builds the styles for a dark or light terminal.
func NewStyles(dark bool) Styles {
	fg := lipgloss.Color("#101F38")
	if dark {
		fg = lipgloss.Color("#f2f2f2")
	}
	return Styles{
		IsDark:    dark,
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(Primary).Padding(0, 1),
		Footer:    lipgloss.NewStyle().Foreground(Muted).Padding(0, 1),
		Content:   lipgloss.NewStyle().Padding(0, 1),
		User:      lipgloss.NewStyle().Bold(true).Foreground(Primary),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Action:    lipgloss.NewStyle().Foreground(Muted).Italic(true),
		Muted:     lipgloss.NewStyle().Foreground(Muted),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(Destructive),
		Booked:    lipgloss.NewStyle().Bold(true).Foreground(Success),
		Field:     lipgloss.NewStyle().Foreground(fg),
		Missing:   lipgloss.NewStyle().Foreground(Warning),
		Panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Border).Padding(0, 1),
		Input:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Accent).Padding(0, 1),
		Spinner:   lipgloss.NewStyle().Foreground(Accent),
	}
}

// detectDark honors INTAKE_THEME and falls back to the terminal background.
func detectDark() bool {
	switch strings.ToLower(os.Getenv("INTAKE_THEME")) {
	case "light":
		return false
	case "dark":
		return true
	}
	return lipgloss.HasDarkBackground()
}
