package main

import (
	"errors"
	"fmt"

	"medintake/cmd/intake/tui"
	"medintake/internal/fields"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var chatSessionID string

// chatCmd starts the interactive chat interface
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	RunE:  runInteractiveChat,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, chatCmd} {
		c.Flags().StringVarP(&chatSessionID, "session", "s", "", "Resume this session")
	}
	rootCmd.AddCommand(chatCmd)
}

func runInteractiveChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(false)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	mapper := fields.NewMapper(nil)
	model := tui.New(tui.Config{
		Sender:      a.svc,
		SessionID:   chatSessionID,
		Required:    mapper.RequiredFields(),
		TurnTimeout: a.cfg.GetExtractionTimeout() * 2,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat interface failed: %w", err)
	}
	if m, ok := final.(tui.Model); ok && m.SessionID() != "" {
		logger.Debug("chat finished", zap.String("session", m.SessionID()))
		fmt.Printf("Session: %s\n", m.SessionID())
	}
	return nil
}
