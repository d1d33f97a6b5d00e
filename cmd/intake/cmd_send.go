package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"medintake/internal/chat"
	"medintake/internal/fields"
	"medintake/internal/validation"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	sendSessionID string
	sendJSON      bool

	validateMode        string
	validateFile        string
	validateConcurrency int
)

// sendCmd runs one message through the pipeline
var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one patient message and print the reply",
	Long: `Runs a single message through extraction, validation and the decision
policy. Pass --session to continue an existing conversation; without it a new
session is started and its ID is printed.

Example:
  intake send "João Silva, telefone 11999888777, cardiologia amanhã às 14h"
  intake send --session <id> "sim"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

// validateCmd validates a raw record
var validateCmd = &cobra.Command{
	Use:   "validate [json]",
	Short: "Validate and normalize an appointment record",
	Long: `Validates a JSON object of field name to raw value. Keys may be canonical
names or Portuguese aliases. The record is read from the argument, from
--file, or from stdin when neither is given. A JSON array of objects is
validated as a batch, several records at a time.

The output carries the normalized fields, the field-name mapping report and
recommendations for whatever needs fixing.

Example:
  intake validate '{"nome":"joão silva","telefone":"11999888777","data":"amanhã"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	sendCmd.Flags().StringVarP(&sendSessionID, "session", "s", "", "Session to continue")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print the full decision as JSON")

	validateCmd.Flags().StringVarP(&validateMode, "mode", "m", "", "Validation mode: strict, permissive, suggestions_only")
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Read the record from a file")
	validateCmd.Flags().IntVar(&validateConcurrency, "concurrency", 4, "Records validated at a time in batch mode")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.svc.Send(ctx, sendSessionID, joinArgs(args))
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}
	logger.Debug("turn processed",
		zap.String("session", reply.SessionID),
		zap.String("action", string(reply.Action)),
		zap.Float64("confidence", reply.Confidence),
	)

	if sendJSON {
		return printJSON(reply)
	}
	printReply(reply)
	return nil
}

func printReply(r chat.Reply) {
	fmt.Printf("Session:    %s\n", r.SessionID)
	fmt.Printf("Action:     %s (confidence %.2f)\n", r.Action, r.Confidence)
	fmt.Println(strings.Repeat("─", 50))
	fmt.Println(r.Response)
	fmt.Println(strings.Repeat("─", 50))
	if len(r.Extracted) > 0 {
		fmt.Println("Collected:")
		for _, f := range r.Extracted.Ordered() {
			fmt.Printf("  %-17s %s\n", f.Label()+":", r.Extracted[f])
		}
	}
	if r.Validation != nil {
		for _, f := range fields.All {
			for _, e := range r.Validation.FieldErrors(f) {
				fmt.Printf("  ✗ %s: %s\n", f.Label(), e)
			}
		}
	}
	if r.ConsultationID != 0 {
		fmt.Printf("\n✅ Consultation #%d booked.\n", r.ConsultationID)
	}
	if r.Err != "" {
		fmt.Printf("\nError: %s\n", r.Err)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	switch {
	case len(args) == 1:
		raw = []byte(args[0])
	case validateFile != "":
		raw, err = os.ReadFile(validateFile)
	default:
		raw, err = readAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("record must be a JSON object or array: %w", err)
	}
	var records []map[string]string
	items, batch := doc.([]interface{})
	if !batch {
		items = []interface{}{doc}
	}
	for i, item := range items {
		rec, err := recordFromJSON(item)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}

	var mode validation.Mode
	if validateMode != "" {
		if mode, err = validation.ParseMode(validateMode); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(true)
	defer cancel()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	components, err := chat.BuildComponents(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if mode == "" {
		mode = components.Mode
	}
	n := validation.NewNormalizer(components.Orchestrator, mode)
	if !batch {
		return printJSON(n.Normalize(records[0]))
	}
	results, err := n.NormalizeBatch(ctx, records, validateConcurrency)
	if err != nil {
		return err
	}
	return printJSON(results)
}
