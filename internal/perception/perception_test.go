package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"medintake/internal/config"
	"medintake/internal/fields"
	"medintake/internal/session"
	"medintake/internal/usage"
	"medintake/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestRules() *RulesExtractor {
	d := validation.NewDateValidator(time.UTC, 6, false)
	d.Clock = func() time.Time { return fixedNow }
	return NewRulesExtractor(d)
}

func TestRulesExtractor(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		lastResponse string
		want         map[string]string
	}{
		{
			name:    "full request in one message",
			message: "João Silva, telefone 11999888777, consulta de cardiologia para amanhã às 14h",
			want: map[string]string{
				"nome":          "João Silva",
				"telefone":      "11999888777",
				"data":          "amanha",
				"horario":       "14h",
				// Specialties come out already canonical.
				"tipo_consulta": "Cardiologia",
			},
		},
		{
			name:    "short invalid phone is still extracted",
			message: "João Silva, telefone 123",
			want:    map[string]string{"nome": "João Silva", "telefone": "123"},
		},
		{
			name:    "phone correction",
			message: "o telefone correto é 11999888777",
			want:    map[string]string{"telefone": "11999888777"},
		},
		{
			name:    "explicit introduction",
			message: "Meu nome é Maria Souza",
			want:    map[string]string{"nome": "Maria Souza"},
		},
		{
			name:         "bare answer to a name question",
			message:      "ana paula",
			lastResponse: "Qual é o seu nome completo?",
			want:         map[string]string{"nome": "ana paula"},
		},
		{
			name:    "bare lowercase words are not a name",
			message: "ana paula",
			want:    map[string]string{},
		},
		{
			name:    "documents",
			message: "meu cpf é 529.982.247-25 e o cep 01310-100",
			want:    map[string]string{"cpf": "529.982.247-25", "cep": "01310-100"},
		},
	}

	r := newTestRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := session.New("s1", fixedNow)
			sc.LastResponse = tt.lastResponse
			res, err := r.Extract(context.Background(), tt.message, sc)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, "rules", res.Source)
			assert.Equal(t, tt.want, res.Data)
			if len(tt.want) > 0 {
				assert.InDelta(t, 0.7, res.Confidence, 1e-9)
			}
		})
	}
}

func TestRulesExtractorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestRules().Extract(ctx, "João Silva", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
}

func TestRulesOutputValidates(t *testing.T) {
	opts := validation.DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	opts.Location = time.UTC
	orch := validation.NewDefaultOrchestrator(nil, opts)

	res, err := newTestRules().Extract(context.Background(),
		"João Silva, telefone 11999888777, consulta de cardiologia para amanhã às 14h", nil)
	require.NoError(t, err)

	s := orch.Validate(res.Data, validation.ModePermissive, nil)
	assert.Zero(t, s.TotalErrors)
	assert.Equal(t, "João Silva", s.Normalized[fields.Name])
	assert.Equal(t, "(11) 99988-8777", s.Normalized[fields.Phone])
	assert.Equal(t, "2026-10-16", s.Normalized[fields.ConsultationDate])
	assert.Contains(t, s.Normalized[fields.ConsultationTime], "14:00")
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		Model:        "gpt-4o-mini",
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
}

func completion(content string) []byte {
	body := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 12, "total_tokens": 52},
	}
	b, _ := json.Marshal(body)
	return b
}

func TestOpenAIClientRequest(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "oi", req.Messages[1].Content)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		_, _ = w.Write(completion(`{"nome":"João"}`))
	})

	out, err := client.CompleteWithSystem(context.Background(), "sys", "oi")
	require.NoError(t, err)
	assert.Equal(t, `{"nome":"João"}`, out)
}

func TestOpenAIClientTracksUsage(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion(`{}`))
	})
	tracker, err := usage.NewTracker("")
	require.NoError(t, err)
	ctx := usage.WithSession(usage.NewContext(context.Background(), tracker), "s1")

	_, err = client.CompleteWithSystem(ctx, "sys", "oi")
	require.NoError(t, err)
	stats := tracker.Stats()
	assert.Equal(t, usage.TokenCounts{Calls: 1, Input: 40, Output: 12, Total: 52}, stats.Total)
	assert.Equal(t, int64(52), stats.ByModel["gpt-4o-mini"].Total)
	assert.Equal(t, int64(52), stats.BySession["s1"].Total)
}

func TestOpenAIClientRetriesRateLimit(t *testing.T) {
	var calls int32
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(completion(`{}`))
	})

	_, err := client.CompleteWithSystem(context.Background(), "sys", "oi")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIClientDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	})

	_, err := client.CompleteWithSystem(context.Background(), "sys", "oi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIClientMissingKey(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{})
	_, err := client.CompleteWithSystem(context.Background(), "sys", "oi")
	require.Error(t, err)
}

func TestLLMExtractor(t *testing.T) {
	var gotUser string
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotUser = req.Messages[1].Content
		_, _ = w.Write(completion("```json\n{\"nome\":\"João Silva\",\"telefone\":11999888777,\"cpf\":null,\"confidence\":0.92}\n```"))
	})

	sc := session.New("s1", fixedNow)
	sc.Extracted = fields.Record{fields.ConsultationDate: "2026-10-16"}
	ex := NewLLMExtractor(client, time.Second)

	res, err := ex.Extract(context.Background(), "João Silva, 11999888777", sc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "openai", res.Source)
	assert.Equal(t, map[string]string{"nome": "João Silva", "telefone": "11999888777"}, res.Data)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Contains(t, gotUser, "Data: 2026-10-16")
	assert.Contains(t, gotUser, "Mensagem do paciente: João Silva, 11999888777")
}

func TestLLMExtractorBadJSON(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion("não sei"))
	})
	res, err := NewLLMExtractor(client, time.Second).Extract(context.Background(), "oi", nil)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Err)
}

func TestParseExtractionDefaultConfidence(t *testing.T) {
	data, conf, err := parseExtraction(`{"nome":"Ana Lima","horario":""}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nome": "Ana Lima"}, data)
	assert.InDelta(t, defaultLLMConfidence, conf, 1e-9)
}

type stubExtractor struct {
	name  string
	res   Result
	err   error
	calls int
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Extract(context.Context, string, *session.Context) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestChain(t *testing.T) {
	failing := &stubExtractor{name: "openai", res: Failed("openai", errors.New("timeout")), err: errors.New("timeout")}
	empty := &stubExtractor{name: "empty", res: Result{Success: true, Data: map[string]string{}}}
	rules := &stubExtractor{name: "rules", res: Result{Success: true, Data: map[string]string{"nome": "Ana Lima"}, Source: "rules"}}

	t.Run("falls back past failures", func(t *testing.T) {
		c := NewChain(failing, rules)
		assert.Equal(t, "openai>rules", c.Name())
		res, err := c.Extract(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "rules", res.Source)
	})

	t.Run("empty success yields to a later link with data", func(t *testing.T) {
		res, err := NewChain(empty, rules).Extract(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "Ana Lima", res.Data["nome"])
	})

	t.Run("empty success is kept when nothing else has data", func(t *testing.T) {
		res, err := NewChain(failing, empty).Extract(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.Data)
	})

	t.Run("all failing", func(t *testing.T) {
		res, err := NewChain(failing, nil).Extract(context.Background(), "x", nil)
		require.Error(t, err)
		assert.False(t, res.Success)
	})

	t.Run("first data wins", func(t *testing.T) {
		rules.calls = 0
		other := &stubExtractor{name: "other", res: Result{Success: true, Data: map[string]string{"nome": "Outro Nome"}}}
		res, err := NewChain(rules, other).Extract(context.Background(), "x", nil)
		require.NoError(t, err)
		assert.Equal(t, "Ana Lima", res.Data["nome"])
		assert.Equal(t, 0, other.calls)
	})
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	ex, err := NewFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "rules", ex.Name())

	cfg.Extraction.Provider = "openai"
	cfg.Extraction.APIKey = ""
	ex, err = NewFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "rules", ex.Name(), "missing key degrades to rules")

	cfg.Extraction.APIKey = "k"
	ex, err = NewFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai>rules", ex.Name())

	cfg.Extraction.FallbackToRules = false
	ex, err = NewFromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", ex.Name())

	cfg.Extraction.Provider = "carrier-pigeon"
	_, err = NewFromConfig(ctx, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("unknown extraction provider: %s", "carrier-pigeon"))
}
