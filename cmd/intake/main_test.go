package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medintake/internal/chat"
	"medintake/internal/session"
	"medintake/internal/store"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJoinArgs(t *testing.T) {
	got := joinArgs([]string{"one", "two", "three"})
	if got != "one two three" {
		t.Fatalf("expected 'one two three', got '%s'", got)
	}
}

func TestInWorkspace(t *testing.T) {
	workspace = "/srv/clinic"
	defer func() { workspace = "" }()

	assert.Equal(t, filepath.Join("/srv/clinic", ".intake", "intake.db"), inWorkspace(".intake/intake.db"))
	assert.Equal(t, "/var/lib/intake.db", inWorkspace("/var/lib/intake.db"))
	assert.Equal(t, ":memory:", inWorkspace(":memory:"))
	assert.Equal(t, filepath.Join("/srv/clinic", ".intake", "config.yaml"), resolveConfigPath())
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "01310100", stringValue("01310100"))
	assert.Equal(t, "11999888777", stringValue(11999888777.0))
	assert.Equal(t, "true", stringValue(true))
}

func TestParseConsultationID(t *testing.T) {
	id, err := parseConsultationID("#12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseConsultationID(bad)
		assert.Error(t, err, bad)
	}
}

// setupWorkspace points every command at a fresh workspace.
func setupWorkspace(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	workspace = t.TempDir()
	configPath = ""
	noPersist = false
	verbose = false
	t.Setenv("INTAKE_EXTRACTION_PROVIDER", "rules")
	t.Setenv("INTAKE_DB", "")
	t.Setenv("INTAKE_VALIDATION_MODE", "")
	t.Cleanup(func() {
		workspace = ""
		sendSessionID = ""
		sendJSON = false
		consultJSON = false
		consultStatus = ""
		sessionsJSON = false
	})
}

func TestSendBooksAcrossInvocations(t *testing.T) {
	setupWorkspace(t)
	sendJSON = true

	var reply chat.Reply
	out := captureOutput(t, func() {
		err := runSend(&cobra.Command{}, []string{"João Silva, telefone 11999888777, consulta de cardiologia para amanhã às 14h"})
		require.NoError(t, err)
	})
	require.NoError(t, json.Unmarshal([]byte(out), &reply), out)
	assert.Equal(t, session.ActionConfirm, reply.Action)
	require.NotEmpty(t, reply.SessionID)

	// Sessions persist on disk, so a second process continues the conversation.
	sendSessionID = reply.SessionID
	out = captureOutput(t, func() {
		require.NoError(t, runSend(&cobra.Command{}, []string{"sim"}))
	})
	require.NoError(t, json.Unmarshal([]byte(out), &reply), out)
	assert.Equal(t, session.ActionComplete, reply.Action)
	assert.NotZero(t, reply.ConsultationID)

	consultJSON = true
	consultStatus = "confirmada"
	out = captureOutput(t, func() {
		require.NoError(t, runConsultationsList(&cobra.Command{}, nil))
	})
	var list []store.Consultation
	require.NoError(t, json.Unmarshal([]byte(out), &list), out)
	require.Len(t, list, 1)
	assert.Equal(t, "João Silva", list[0].PatientName)

	sessionsJSON = true
	out = captureOutput(t, func() {
		require.NoError(t, runSessionsList(&cobra.Command{}, nil))
	})
	var sessions []session.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sessions), out)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Confirmed)
}

func TestConsultationsStatsJSON(t *testing.T) {
	setupWorkspace(t)
	noPersist = true
	consultJSON = true

	captureOutput(t, func() {
		require.NoError(t, runSend(&cobra.Command{}, []string{"Meu nome é Ana Lima"}))
	})
	out := captureOutput(t, func() {
		require.NoError(t, runConsultationsStats(&cobra.Command{}, nil))
	})
	var report statsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 1, report.Extraction.Total)
	assert.Equal(t, 1, report.Extraction.BySource["rules"])
	assert.Zero(t, report.Consultations[store.StatusConfirmed])
	assert.Zero(t, report.Tokens.Total.Calls)
}

func TestSendHumanOutput(t *testing.T) {
	setupWorkspace(t)
	noPersist = true

	out := captureOutput(t, func() {
		require.NoError(t, runSend(&cobra.Command{}, []string{"Meu nome é Ana Lima"}))
	})
	assert.Contains(t, out, "Action:")
	assert.Contains(t, out, "Nome:")
	assert.Contains(t, out, "Ana Lima")
}

func TestSessionsShowUnknown(t *testing.T) {
	setupWorkspace(t)
	err := runSessionsShow(&cobra.Command{}, []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNoConsultations(t *testing.T) {
	setupWorkspace(t)
	out := captureOutput(t, func() {
		require.NoError(t, runConsultationsList(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "No consultations found")
}

func TestValidateFromArgument(t *testing.T) {
	setupWorkspace(t)
	defer func() { validateMode = "" }()

	out := captureOutput(t, func() {
		err := runValidate(&cobra.Command{}, []string{`{"nome":"joão silva","telefone":11999888777,"data":"amanhã"}`})
		require.NoError(t, err)
	})
	var result struct {
		Success    bool              `json:"success"`
		Normalized map[string]string `json:"normalized"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.True(t, result.Success)
	assert.Equal(t, "(11) 99988-8777", result.Normalized["phone"])

	assert.Error(t, runValidate(&cobra.Command{}, []string{"not json"}))

	validateMode = "lenient"
	assert.Error(t, runValidate(&cobra.Command{}, []string{`{"nome":"Ana Lima"}`}))
}

func TestValidateBatchFromArgument(t *testing.T) {
	setupWorkspace(t)

	out := captureOutput(t, func() {
		err := runValidate(&cobra.Command{}, []string{`[
			{"nome":"joão silva","telefone":11999888777,"data":"amanhã"},
			{"nome":"Ana Lima","telefone":"123","cor":"azul"}
		]`})
		require.NoError(t, err)
	})
	var results []struct {
		Success         bool     `json:"success"`
		Recommendations []string `json:"recommendations"`
		Mapping         struct {
			Unmapped []string `json:"unmapped"`
		} `json:"mapping"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, []string{"cor"}, results[1].Mapping.Unmapped)
	assert.Contains(t, results[1].Recommendations, "Campo não reconhecido: cor")

	assert.Error(t, runValidate(&cobra.Command{}, []string{`["nome"]`}))
}

func TestConfigInitAndShow(t *testing.T) {
	setupWorkspace(t)

	out := captureOutput(t, func() {
		require.NoError(t, runConfigInit(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "config.yaml")
	assert.FileExists(t, filepath.Join(workspace, ".intake", "config.yaml"))
	assert.Error(t, runConfigInit(&cobra.Command{}, nil))

	out = captureOutput(t, func() {
		require.NoError(t, runConfigShow(&cobra.Command{}, nil))
	})
	assert.Contains(t, out, "provider: rules")
	assert.True(t, strings.Contains(out, "session_ttl: 24h"), out)
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	defer func() {
		_ = wOut.Close()
		_ = wErr.Close()
		os.Stdout = origOut
		os.Stderr = origErr
	}()
	fn()
	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
