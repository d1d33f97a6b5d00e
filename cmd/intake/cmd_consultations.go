package main

import (
	"fmt"
	"strconv"
	"strings"

	"medintake/internal/store"
	"medintake/internal/usage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	consultLimit  int
	consultOffset int
	consultStatus string
	consultJSON   bool
)

// consultationsCmd manages booked consultations
var consultationsCmd = &cobra.Command{
	Use:     "consultations",
	Aliases: []string{"consultas"},
	Short:   "List and manage booked consultations",
	Long: `List and manage consultations booked by confirmed conversations.

Subcommands:
  list     - List consultations (filter with --status)
  range    - List consultations between two ISO dates
  status   - Move a consultation to another status
  delete   - Delete a consultation
  stats    - Booking and extraction statistics`,
	RunE: runConsultationsList,
}

var consultationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consultations",
	RunE:  runConsultationsList,
}

var consultationsRangeCmd = &cobra.Command{
	Use:   "range <from> <to>",
	Short: "List consultations between two dates (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(2),
	RunE:  runConsultationsRange,
}

var consultationsStatusCmd = &cobra.Command{
	Use:   "status <id> <pendente|confirmada|cancelada|concluida>",
	Short: "Move a consultation to another status",
	Args:  cobra.ExactArgs(2),
	RunE:  runConsultationsStatus,
}

var consultationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a consultation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsultationsDelete,
}

var consultationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show booking and extraction statistics",
	RunE:  runConsultationsStats,
}

func init() {
	consultationsCmd.PersistentFlags().BoolVar(&consultJSON, "json", false, "Print JSON")
	for _, c := range []*cobra.Command{consultationsCmd, consultationsListCmd} {
		c.Flags().IntVarP(&consultLimit, "limit", "n", 20, "Maximum results")
		c.Flags().IntVar(&consultOffset, "offset", 0, "Skip this many results")
		c.Flags().StringVar(&consultStatus, "status", "", "Only consultations in this status")
	}
	consultationsCmd.AddCommand(
		consultationsListCmd,
		consultationsRangeCmd,
		consultationsStatusCmd,
		consultationsDeleteCmd,
		consultationsStatsCmd,
	)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Driver, inWorkspace(cfg.Store.DatabasePath))
}

func runConsultationsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var list []*store.Consultation
	if consultStatus != "" {
		st, perr := store.ParseStatus(consultStatus)
		if perr != nil {
			return perr
		}
		list, err = db.FindByStatus(ctx, st)
	} else {
		list, err = db.ListConsultations(ctx, consultLimit, consultOffset)
	}
	if err != nil {
		return fmt.Errorf("failed to list consultations: %w", err)
	}
	return printConsultations(list)
}

func runConsultationsRange(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := db.FindByDateRange(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to list consultations: %w", err)
	}
	return printConsultations(list)
}

func printConsultations(list []*store.Consultation) error {
	if consultJSON {
		if list == nil {
			list = []*store.Consultation{}
		}
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No consultations found.")
		return nil
	}

	fmt.Println("📅 Consultations")
	fmt.Println(strings.Repeat("─", 50))
	for _, c := range list {
		fmt.Printf("  #%d  %s %s  %s  %s  [%s]\n", c.ID, c.Date, c.Time, c.PatientName, c.Phone, c.Status)
		if c.Type != "" {
			fmt.Printf("       %s\n", c.Type)
		}
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d consultations\n", len(list))
	return nil
}

func parseConsultationID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid consultation id %q", s)
	}
	return id, nil
}

func runConsultationsStatus(cmd *cobra.Command, args []string) error {
	id, err := parseConsultationID(args[0])
	if err != nil {
		return err
	}
	st, err := store.ParseStatus(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(true)
	defer cancel()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.UpdateStatus(ctx, id, st); err != nil {
		return fmt.Errorf("failed to update consultation #%d: %w", id, err)
	}
	logger.Info("consultation status changed", zap.Int64("id", id), zap.String("status", string(st)))
	fmt.Printf("✅ Consultation #%d is now %s.\n", id, st)
	return nil
}

func runConsultationsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseConsultationID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(true)
	defer cancel()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteConsultation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete consultation #%d: %w", id, err)
	}
	fmt.Printf("✅ Consultation #%d deleted.\n", id)
	return nil
}

// statsReport is the JSON shape of the stats command.
type statsReport struct {
	Consultations map[store.Status]int    `json:"consultations"`
	Extraction    store.ExtractionSummary `json:"extraction"`
	Tokens        usage.AggregatedStats   `json:"tokens"`
}

func runConsultationsStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count consultations: %w", err)
	}
	ex, err := db.ExtractionStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read extraction stats: %w", err)
	}
	tracker, err := usage.NewTracker(usageDir(db.Path()))
	if err != nil {
		return err
	}
	tokens := tracker.Stats()
	if consultJSON {
		return printJSON(statsReport{Consultations: counts, Extraction: ex, Tokens: tokens})
	}

	fmt.Println("📊 Statistics")
	fmt.Println(strings.Repeat("─", 50))
	for _, st := range store.Statuses {
		fmt.Printf("  %-12s %d\n", st, counts[st])
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Extractions:    %d (%d successful)\n", ex.Total, ex.Successful)
	fmt.Printf("  Avg confidence: %.2f\n", ex.AvgConfidence)
	for src, n := range ex.BySource {
		fmt.Printf("  %-15s %d\n", src+":", n)
	}
	if tokens.Total.Calls > 0 {
		fmt.Println(strings.Repeat("─", 50))
		fmt.Printf("  LLM calls:      %d\n", tokens.Total.Calls)
		fmt.Printf("  Tokens:         %d in / %d out\n", tokens.Total.Input, tokens.Total.Output)
		for model, c := range tokens.ByModel {
			fmt.Printf("  %-15s %d tokens\n", model+":", c.Total)
		}
	}
	return nil
}
