// Package mcp exposes the intake pipeline as Model Context Protocol tools so
// an assistant host can drive conversations, validate records and inspect
// bookings.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"medintake/internal/chat"
	"medintake/internal/logging"
	"medintake/internal/session"
	"medintake/internal/store"
	"medintake/internal/validation"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Service *chat.Service
	Version string
}

// NewServer creates an MCP server with the intake tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	s := server.NewMCPServer(
		"medintake",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerTurnTool(s, cfg.Service)
	registerValidateTool(s, cfg.Service)
	registerSessionTool(s, cfg.Service)
	registerSessionsTool(s, cfg.Service)
	if db := cfg.Service.Store(); db != nil {
		registerConsultationsTool(s, db)
		registerRecentResource(s, db)
	}
	registerSessionsResource(s, cfg.Service)
	return s
}

// ServeStdio serves s on r/w until ctx is done or the input closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, r io.Reader, w io.Writer) error {
	logging.Boot("MCP server listening on stdio")
	return server.NewStdioServer(s).Listen(ctx, r, w)
}

// ServeHTTP serves s over streamable HTTP on addr until ctx is done.
func ServeHTTP(ctx context.Context, s *server.MCPServer, addr string) error {
	httpSrv := server.NewStreamableHTTPServer(s)
	errCh := make(chan error, 1)
	go func() {
		logging.Boot("MCP server listening on http://%s/mcp", addr)
		errCh <- httpSrv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down MCP server: %w", err)
		}
		return nil
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// --- Tools ---

func registerTurnTool(s *server.MCPServer, svc *chat.Service) {
	tool := mcp.NewTool("intake_turn",
		mcp.WithDescription("Send one patient message to an intake conversation. Returns the next action (extract, ask, confirm, complete, error), the reply to show the patient, the fields collected so far and the turn confidence."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The patient's message, in Portuguese"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation to continue. Empty starts a new one; the reply carries its ID."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcp.NewToolResultError("message is required"), nil
		}
		sessionID, _ := req.RequireString("session_id")

		reply, err := svc.Send(ctx, sessionID, message)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", err)), nil
		}
		return jsonResult(reply)
	})
}

func registerValidateTool(s *server.MCPServer, svc *chat.Service) {
	tool := mcp.NewTool("intake_validate",
		mcp.WithDescription("Validate and normalize a raw appointment record, or a batch of them. The result carries the normalized fields, the name mapping report and recommendations. Keys may be canonical names or aliases (nome, telefone, data, horario, cpf, cep, tipo_consulta, observacoes)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithObject("record",
			mcp.Description("Field name to raw value"),
		),
		mcp.WithArray("records",
			mcp.Description("Several independent records, validated concurrently. Used instead of record."),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithString("mode",
			mcp.Description("Validation mode (default: configured mode)"),
			mcp.Enum("strict", "permissive", "suggestions_only"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var mode validation.Mode
		if m, err := req.RequireString("mode"); err == nil && m != "" {
			mode, err = validation.ParseMode(m)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid mode: %v", err)), nil
			}
		}

		if items, ok := req.GetArguments()["records"].([]interface{}); ok {
			records := make([]map[string]string, 0, len(items))
			for i, item := range items {
				rec, err := recordArgument(item)
				if err != nil {
					return mcp.NewToolResultError(fmt.Sprintf("records[%d]: %v", i, err)), nil
				}
				records = append(records, rec)
			}
			results, err := svc.ValidateBatch(ctx, records, mode)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("batch validation failed: %v", err)), nil
			}
			return jsonResult(results)
		}

		record, err := recordArgument(req.GetArguments()["record"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(svc.Validate(record, mode))
	})
}

// recordArgument accepts a JSON object or a string holding one. Numbers are
// rendered without exponent so digit strings survive.
func recordArgument(v interface{}) (map[string]string, error) {
	if str, ok := v.(string); ok {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(str), &obj); err != nil {
			return nil, fmt.Errorf("record must be a JSON object: %v", err)
		}
		v = obj
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("record is required")
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		switch t := val.(type) {
		case nil:
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}

func registerSessionTool(s *server.MCPServer, svc *chat.Service) {
	tool := mcp.NewTool("intake_session",
		mcp.WithDescription("Inspect or end an intake conversation."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation ID"),
		),
		mcp.WithString("action",
			mcp.Description("get (default) or delete"),
			mcp.Enum("get", "delete"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil || id == "" {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		action, _ := req.RequireString("action")
		switch action {
		case "", "get":
			sc, err := svc.Session(ctx, id)
			if errors.Is(err, session.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("session %s not found", id)), nil
			}
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return jsonResult(sc)
		case "delete":
			if err := svc.EndSession(ctx, id); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("deleting session: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("session %s deleted", id)), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
		}
	})
}

func registerSessionsTool(s *server.MCPServer, svc *chat.Service) {
	tool := mcp.NewTool("intake_sessions",
		mcp.WithDescription("List intake conversations, most recently active first."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := svc.Sessions(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing sessions: %v", err)), nil
		}
		return jsonResult(list)
	})
}

func registerConsultationsTool(s *server.MCPServer, db *store.Store) {
	tool := mcp.NewTool("intake_consultations",
		mcp.WithDescription("List booked consultations, filtered by status or by an ISO date range."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("status",
			mcp.Description("Only consultations in this status"),
			mcp.Enum("pendente", "confirmada", "cancelada", "concluida"),
		),
		mcp.WithString("from",
			mcp.Description("Start date, YYYY-MM-DD (requires 'to')"),
		),
		mcp.WithString("to",
			mcp.Description("End date, YYYY-MM-DD"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results when listing recent consultations (default: 20, max: 200)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			list []*store.Consultation
			err  error
		)
		from, _ := req.RequireString("from")
		to, _ := req.RequireString("to")
		status, _ := req.RequireString("status")

		switch {
		case from != "" || to != "":
			if from == "" || to == "" {
				return mcp.NewToolResultError("both from and to are required for a date range"), nil
			}
			list, err = db.FindByDateRange(ctx, from, to)
		case status != "":
			st, perr := store.ParseStatus(status)
			if perr != nil {
				return mcp.NewToolResultError(perr.Error()), nil
			}
			list, err = db.FindByStatus(ctx, st)
		default:
			limit := 20
			if v, ferr := req.RequireFloat("limit"); ferr == nil && v > 0 {
				limit = int(v)
				if limit > 200 {
					limit = 200
				}
			}
			list, err = db.RecentConsultations(ctx, limit)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing consultations: %v", err)), nil
		}
		if list == nil {
			list = []*store.Consultation{}
		}
		return jsonResult(list)
	})
}

// --- Resources ---

func registerSessionsResource(s *server.MCPServer, svc *chat.Service) {
	resource := mcp.NewResource(
		"intake://sessions",
		"Intake Sessions",
		mcp.WithResourceDescription("Summaries of all intake conversations."),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := svc.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		data, _ := json.MarshalIndent(list, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRecentResource(s *server.MCPServer, db *store.Store) {
	resource := mcp.NewResource(
		"intake://consultations/recent",
		"Recent Consultations",
		mcp.WithResourceDescription("The 20 most recently booked consultations."),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := db.RecentConsultations(ctx, 20)
		if err != nil {
			return nil, fmt.Errorf("listing recent consultations: %w", err)
		}
		data, _ := json.MarshalIndent(list, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
