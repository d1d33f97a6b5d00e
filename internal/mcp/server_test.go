package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"medintake/internal/chat"
	"medintake/internal/config"
	"medintake/internal/session"
	"medintake/internal/store"
	"medintake/internal/validation"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*server.MCPServer, *chat.Service) {
	t.Helper()
	c, err := chat.BuildComponents(context.Background(), config.DefaultConfig(), func() time.Time { return fixedNow })
	require.NoError(t, err)
	db, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := chat.NewService(c, session.NewMemoryStore(), db, time.Hour)
	return NewServer(ServerConfig{Service: svc, Version: "test"}), svc
}

type toolResponse struct {
	Text    string
	IsError bool
}

// callTool invokes an MCP tool through the JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) toolResponse {
	t.Helper()
	msg, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(srv.HandleMessage(context.Background(), msg))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))
	require.Nil(t, resp.Error, string(raw))
	require.NotEmpty(t, resp.Result.Content, string(raw))
	return toolResponse{Text: resp.Result.Content[0].Text, IsError: resp.Result.IsError}
}

func TestTurnTool(t *testing.T) {
	srv, _ := newTestServer(t)

	res := callTool(t, srv, "intake_turn", map[string]interface{}{
		"message": "João Silva, telefone 11999888777, consulta de cardiologia para amanhã às 14h",
	})
	require.False(t, res.IsError, res.Text)

	var reply chat.Reply
	require.NoError(t, json.Unmarshal([]byte(res.Text), &reply))
	assert.Equal(t, session.ActionConfirm, reply.Action)
	require.NotEmpty(t, reply.SessionID)

	res = callTool(t, srv, "intake_turn", map[string]interface{}{
		"message":    "sim",
		"session_id": reply.SessionID,
	})
	require.False(t, res.IsError, res.Text)
	require.NoError(t, json.Unmarshal([]byte(res.Text), &reply))
	assert.Equal(t, session.ActionComplete, reply.Action)
	assert.NotZero(t, reply.ConsultationID)

	res = callTool(t, srv, "intake_consultations", map[string]interface{}{"status": "confirmada"})
	require.False(t, res.IsError, res.Text)
	var list []store.Consultation
	require.NoError(t, json.Unmarshal([]byte(res.Text), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "João Silva", list[0].PatientName)

	res = callTool(t, srv, "intake_consultations", map[string]interface{}{"from": "2026-10-01"})
	assert.True(t, res.IsError)
}

func TestTurnToolRequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	res := callTool(t, srv, "intake_turn", map[string]interface{}{})
	assert.True(t, res.IsError)
}

func TestValidateTool(t *testing.T) {
	srv, _ := newTestServer(t)

	res := callTool(t, srv, "intake_validate", map[string]interface{}{
		"record": map[string]interface{}{"nome": "João Silva", "telefone": "123"},
		"mode":   "strict",
	})
	require.False(t, res.IsError, res.Text)
	var result validation.NormalizationResult
	require.NoError(t, json.Unmarshal([]byte(res.Text), &result))
	assert.False(t, result.Success)
	assert.NotZero(t, result.Summary.TotalErrors)
	assert.NotEmpty(t, result.Recommendations)

	res = callTool(t, srv, "intake_validate", map[string]interface{}{
		"record": `{"nome":"Ana Lima","telefone":"11999888777","data":"amanhã"}`,
	})
	require.False(t, res.IsError, res.Text)
	result = validation.NormalizationResult{}
	require.NoError(t, json.Unmarshal([]byte(res.Text), &result))
	assert.True(t, result.Success)

	res = callTool(t, srv, "intake_validate", map[string]interface{}{
		"records": []interface{}{
			map[string]interface{}{"nome": "Ana Lima", "telefone": "11999888777", "data": "amanhã"},
			map[string]interface{}{"nome": "João Silva", "cor": "azul"},
		},
	})
	require.False(t, res.IsError, res.Text)
	var batch []validation.NormalizationResult
	require.NoError(t, json.Unmarshal([]byte(res.Text), &batch))
	require.Len(t, batch, 2)
	assert.True(t, batch[0].Success)
	assert.Equal(t, []string{"cor"}, batch[1].Mapping.Unmapped)

	res = callTool(t, srv, "intake_validate", map[string]interface{}{
		"record": map[string]interface{}{"nome": "Ana Lima"},
		"mode":   "lenient",
	})
	assert.True(t, res.IsError)
}

func TestSessionTools(t *testing.T) {
	srv, svc := newTestServer(t)
	_, err := svc.Send(context.Background(), "s1", "Meu nome é Ana Lima")
	require.NoError(t, err)

	res := callTool(t, srv, "intake_sessions", map[string]interface{}{})
	require.False(t, res.IsError, res.Text)
	var list []session.Summary
	require.NoError(t, json.Unmarshal([]byte(res.Text), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)

	res = callTool(t, srv, "intake_session", map[string]interface{}{"session_id": "s1"})
	require.False(t, res.IsError, res.Text)
	var sc session.Context
	require.NoError(t, json.Unmarshal([]byte(res.Text), &sc))
	assert.Len(t, sc.History, 1)

	res = callTool(t, srv, "intake_session", map[string]interface{}{"session_id": "s1", "action": "delete"})
	require.False(t, res.IsError, res.Text)

	res = callTool(t, srv, "intake_session", map[string]interface{}{"session_id": "s1"})
	assert.True(t, res.IsError)
}

func TestRecordArgument(t *testing.T) {
	got, err := recordArgument(map[string]interface{}{"nome": "Ana", "cep": 1310100.0, "x": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nome": "Ana", "cep": "1310100"}, got)

	_, err = recordArgument("not json")
	assert.Error(t, err)
	_, err = recordArgument(nil)
	assert.Error(t, err)
}
