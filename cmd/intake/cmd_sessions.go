// Package main implements session management CLI commands for intake.
// This file handles session listing, inspection and expiry.
package main

import (
	"errors"
	"fmt"
	"strings"

	"medintake/internal/session"

	"github.com/spf13/cobra"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

var sessionsJSON bool

// sessionsCmd manages intake sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage intake sessions",
	Long: `List and manage intake conversations.

Subcommands:
  list    - List all sessions
  show    - Show the full context of a session
  delete  - Delete a session
  expire  - Remove sessions idle longer than the configured TTL`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full context of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Remove idle sessions",
	RunE:  runSessionsExpire,
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsExpireCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.svc.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessionsJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Println("📁 Sessions")
	fmt.Println(strings.Repeat("─", 50))
	for i, s := range list {
		status := string(s.LastAction)
		if s.Confirmed {
			status = "confirmed"
		}
		fmt.Printf("  %d. %s  %d turns, %d fields, %s (%s)\n",
			i+1, s.ID, s.Turns, s.Fields, status, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d sessions\n", len(list))
	fmt.Println("\nUse: intake sessions show <session-id>")
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.svc.Session(ctx, args[0])
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("session '%s' not found. Use 'intake sessions list' to see available sessions", args[0])
	}
	if err != nil {
		return err
	}
	if sessionsJSON {
		return printJSON(sc)
	}

	fmt.Printf("Session %s\n", sc.ID)
	fmt.Println(strings.Repeat("─", 50))
	for _, t := range sc.History {
		fmt.Printf("[%s] paciente: %s\n", t.At.Format("15:04:05"), t.UserMessage)
		fmt.Printf("           %s: %s\n", t.Action, t.Response)
	}
	fmt.Println(strings.Repeat("─", 50))
	for _, f := range sc.Extracted.Ordered() {
		fmt.Printf("  %-17s %s\n", f.Label()+":", sc.Extracted[f])
	}
	fmt.Printf("Average confidence: %.2f  Confirmed: %v\n", sc.AverageConfidence, sc.Confirmed)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.EndSession(ctx, args[0]); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session '%s' not found", args[0])
		}
		return err
	}
	fmt.Printf("✅ Session '%s' deleted.\n", args[0])
	return nil
}

func runSessionsExpire(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.ExpireIdle(ctx)
	if err != nil {
		return fmt.Errorf("failed to expire sessions: %w", err)
	}
	fmt.Printf("Expired %d idle sessions (TTL %s).\n", n, a.cfg.GetSessionTTL())
	return nil
}
