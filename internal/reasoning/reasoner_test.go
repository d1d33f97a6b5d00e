package reasoning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"medintake/internal/config"
	"medintake/internal/fields"
	"medintake/internal/perception"
	"medintake/internal/policy"
	"medintake/internal/session"
	"medintake/internal/validation"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Thursday.
var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestReasoner(t *testing.T, pol policy.Policy) *Reasoner {
	t.Helper()
	vopts := validation.DefaultOptions()
	vopts.Clock = func() time.Time { return fixedNow }
	vopts.Location = time.UTC
	orch := validation.NewDefaultOrchestrator(nil, vopts)
	if pol == nil {
		e, err := policy.NewEngine()
		require.NoError(t, err)
		pol = e
	}
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	return New(orch, pol, opts)
}

func extracted(data map[string]string) perception.Result {
	return perception.Result{Success: true, Data: data, Confidence: 0.8, Source: "test"}
}

func TestSingleTurnWithAllRequiredFieldsConfirms(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)

	d := r.ProcessTurn(context.Background(), "João Silva, telefone 11999888777, cardiologia amanhã às 14h", sc, extracted(map[string]string{
		"nome":          "joão silva",
		"telefone":      "11999888777",
		"data":          "amanhã",
		"horario":       "14h",
		"tipo_consulta": "cardiologia",
	}))

	assert.Equal(t, session.ActionConfirm, d.Action)
	want := fields.Record{
		fields.Name:             "João Silva",
		fields.Phone:            "(11) 99988-8777",
		fields.ConsultationDate: "2026-10-16",
		fields.ConsultationTime: "14:00",
		fields.ConsultationType: "Cardiologia",
	}
	if diff := cmp.Diff(want, d.Extracted); diff != "" {
		t.Errorf("extracted mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, d.Anticipated)
	assert.Empty(t, d.NextQuestions)
	assert.Contains(t, d.Response, "Vou confirmar os dados da sua consulta")
	assert.Contains(t, d.Response, "• Data: 16/10/2026")
	assert.True(t, sc.AwaitingConfirmation)
	assert.Equal(t, session.ActionConfirm, sc.LastAction)
	require.Len(t, sc.History, 1)
	assert.Equal(t, StrategyConfirm, sc.CompletionStrategy)
	assert.Equal(t, 1.0, d.Factors.Temporal)
	assert.InDelta(t, 0.35+0.25+0.2+0.1*0.2+0.1, d.Confidence, 1e-9)
}

func TestConfirmationThenComplete(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)
	ctx := context.Background()

	r.ProcessTurn(ctx, "dados", sc, extracted(map[string]string{
		"nome": "Ana Souza", "telefone": "21988887777", "data": "amanhã",
	}))
	require.True(t, sc.AwaitingConfirmation)

	d := r.ProcessTurn(ctx, "Sim, está correto", sc, extracted(nil))
	assert.Equal(t, session.ActionComplete, d.Action)
	assert.Contains(t, d.Response, "Sua consulta foi agendada com sucesso")
	assert.True(t, sc.Confirmed)
	assert.False(t, sc.AwaitingConfirmation)
}

func TestNegativeReplyWinsOverAffirmative(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)
	ctx := context.Background()

	r.ProcessTurn(ctx, "dados", sc, extracted(map[string]string{
		"nome": "Ana Souza", "telefone": "21988887777", "data": "amanhã",
	}))
	d := r.ProcessTurn(ctx, "sim, mas não é isso", sc, extracted(nil))
	assert.Equal(t, session.ActionConfirm, d.Action)
	assert.Equal(t, "Sem problemas! Qual informação você gostaria de corrigir?", d.Response)
	assert.False(t, sc.Confirmed)
}

func TestAffirmativeWithoutPendingConfirmationDoesNotComplete(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)

	d := r.ProcessTurn(context.Background(), "sim", sc, extracted(map[string]string{
		"nome": "Ana Souza", "telefone": "21988887777", "data": "amanhã",
	}))
	assert.Equal(t, session.ActionConfirm, d.Action)
}

func TestCorrectionLastWriteWins(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)
	ctx := context.Background()

	d1 := r.ProcessTurn(ctx, "meu telefone é 11999888777", sc, extracted(map[string]string{"telefone": "11999888777"}))
	assert.Empty(t, d1.Corrections)

	d2 := r.ProcessTurn(ctx, "na verdade é 21988887777", sc, extracted(map[string]string{"telefone": "21988887777"}))
	assert.Equal(t, "(21) 98888-7777", sc.Extracted[fields.Phone])
	assert.Equal(t, "(21) 98888-7777", d2.Extracted[fields.Phone])
	require.Len(t, d2.Corrections, 1)
	assert.Equal(t, Correction{Field: fields.Phone, Previous: "(11) 99988-8777", Current: "(21) 98888-7777"}, d2.Corrections[0])
	assert.Contains(t, d2.Response, "Corrigido: Telefone de (11) 99988-8777 para (21) 98888-7777.")
}

func TestInvalidFieldIsNotMerged(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s1", fixedNow)

	d := r.ProcessTurn(context.Background(), "João Silva, telefone 123", sc, extracted(map[string]string{
		"nome": "João Silva", "telefone": "123",
	}))
	assert.Equal(t, session.ActionExtract, d.Action)
	assert.Equal(t, fields.Record{fields.Name: "João Silva"}, d.Extracted)
	require.NotNil(t, d.Validation)
	assert.NotEmpty(t, d.Validation.FieldErrors(fields.Phone))
	assert.Contains(t, d.Response, "Telefone deve ter 10 ou 11 dígitos")
	assert.Equal(t, []fields.CanonicalField{fields.Phone, fields.ConsultationDate}, d.Anticipated)
	assert.Equal(t, []string{
		"Qual é o seu telefone para contato?",
		"Para qual data você gostaria de agendar?",
	}, d.NextQuestions)
	assert.InDelta(t, 0.6, d.Factors.Validation, 1e-9)
}

func TestProgressionPatterns(t *testing.T) {
	ctx := context.Background()
	steps := map[fields.CanonicalField]map[string]string{
		fields.Name:             {"nome": "Ana Souza"},
		fields.Phone:            {"telefone": "21988887777"},
		fields.ConsultationDate: {"data": "amanhã"},
	}

	tests := []struct {
		name  string
		order []fields.CanonicalField
		want  session.Progression
	}{
		{"canonical order", []fields.CanonicalField{fields.Name, fields.Phone, fields.ConsultationDate}, session.ProgressionSequential},
		{"reverse order", []fields.CanonicalField{fields.ConsultationDate, fields.Phone, fields.Name}, session.ProgressionRandom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReasoner(t, nil)
			sc := session.New("s", fixedNow)
			var d Decision
			for _, f := range tt.order {
				d = r.ProcessTurn(ctx, "dado", sc, extracted(steps[f]))
			}
			assert.Equal(t, tt.want, d.Progression)
			assert.Equal(t, tt.want, sc.Progression)
		})
	}
}

func TestDetectProgressionPartialOutOfOrder(t *testing.T) {
	required := []fields.CanonicalField{fields.Name, fields.Phone, fields.ConsultationDate}
	history := []session.Turn{
		{Snapshot: fields.Record{fields.Phone: "x"}},
	}
	assert.Equal(t, session.ProgressionUndetermined, DetectProgression(history, required))
	assert.Equal(t, session.ProgressionUndetermined, DetectProgression(nil, required))

	history = []session.Turn{
		{Snapshot: fields.Record{fields.Name: "a"}},
		{Snapshot: fields.Record{fields.Name: "a", fields.Phone: "b"}},
	}
	assert.Equal(t, session.ProgressionSequential, DetectProgression(history, required))
}

func TestOutOfOrderAnswersGetBatchRequest(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s", fixedNow)

	d := r.ProcessTurn(context.Background(), "quero amanhã", sc, extracted(map[string]string{"data": "amanhã"}))
	assert.Equal(t, session.ActionExtract, d.Action)
	assert.Equal(t, StrategyBatch, sc.CompletionStrategy)
	assert.Contains(t, d.Response, "Para continuar, preciso de Nome e Telefone.")
}

func TestExtractionFailureFallsBackToAsk(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s", fixedNow)

	d := r.ProcessTurn(context.Background(), "olá", sc, perception.Failed("llm", errors.New("timeout")))
	assert.Equal(t, session.ActionAsk, d.Action)
	assert.Equal(t, "Qual é o seu nome completo?", d.Response)
	assert.Nil(t, d.Validation)
	assert.Equal(t, 1, sc.ConsecutiveAsks)
}

func TestPolicyFailureLeavesContextUntouched(t *testing.T) {
	failing := policy.Func(func(context.Context, policy.Facts) (policy.Verdict, error) {
		return policy.Verdict{}, errors.New("rules unavailable")
	})
	r := newTestReasoner(t, failing)
	sc := session.New("s", fixedNow)
	sc.Extracted[fields.Name] = "Ana Souza"
	before := sc.Clone()

	d := r.ProcessTurn(context.Background(), "telefone 21988887777", sc, extracted(map[string]string{"telefone": "21988887777"}))
	assert.Equal(t, session.ActionError, d.Action)
	assert.Equal(t, "rules unavailable", d.Err)
	assert.Contains(t, d.Response, "Desculpe, ocorreu um erro")
	if diff := cmp.Diff(before, sc); diff != "" {
		t.Errorf("context changed on error (-before +after):\n%s", diff)
	}
}

func TestPolicyPanicBecomesError(t *testing.T) {
	panicking := policy.Func(func(context.Context, policy.Facts) (policy.Verdict, error) {
		panic("corrupt")
	})
	r := newTestReasoner(t, panicking)
	sc := session.New("s", fixedNow)

	d := r.ProcessTurn(context.Background(), "oi", sc, extracted(nil))
	assert.Equal(t, session.ActionError, d.Action)
	assert.Empty(t, sc.History)
}

func TestNilContextIsAnError(t *testing.T) {
	r := newTestReasoner(t, nil)
	d := r.ProcessTurn(context.Background(), "oi", nil, extracted(nil))
	assert.Equal(t, session.ActionError, d.Action)
}

func TestAnalyzeDoesNotCommit(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s", fixedNow)

	next, d := r.Analyze(context.Background(), "Ana", sc, extracted(map[string]string{"nome": "Ana Souza"}))
	require.NotNil(t, next)
	assert.Equal(t, session.ActionExtract, d.Action)
	assert.Equal(t, "Ana Souza", next.Extracted[fields.Name])
	assert.Empty(t, sc.Extracted)
	assert.Empty(t, sc.History)
}

func TestRepeatedAsksChangeApproach(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s", fixedNow)
	ctx := context.Background()

	d1 := r.ProcessTurn(ctx, "hmm", sc, extracted(nil))
	assert.False(t, d1.ChangeApproach)
	assert.Equal(t, 0, sc.RepetitionCount)

	d2 := r.ProcessTurn(ctx, "hmm", sc, extracted(nil))
	assert.False(t, d2.ChangeApproach)
	assert.Equal(t, 1, sc.RepetitionCount)
	assert.Equal(t, 2, sc.ConsecutiveAsks)

	d3 := r.ProcessTurn(ctx, "hmm", sc, extracted(nil))
	assert.True(t, d3.ChangeApproach)
	assert.Equal(t, session.ActionAsk, d3.Action)
	assert.Equal(t, "Vou simplificar: preciso de Nome, Telefone e Data. Pode me passar essas informações?", d3.Response)
	assert.Equal(t, 3, sc.ConsecutiveAsks)
}

func TestHistoryIsCapped(t *testing.T) {
	r := newTestReasoner(t, nil)
	sc := session.New("s", fixedNow)
	for i := 0; i < 25; i++ {
		r.ProcessTurn(context.Background(), fmt.Sprintf("mensagem %d", i), sc, extracted(nil))
	}
	require.Len(t, sc.History, session.DefaultHistoryLimit)
	assert.Equal(t, "mensagem 5", sc.History[0].UserMessage)
	assert.Equal(t, 25, sc.ConfidenceCount)
}

func TestConfidenceFactors(t *testing.T) {
	w := config.DefaultConfig().Reasoning.Confidence
	targets := []fields.CanonicalField{fields.Name, fields.Phone, fields.ConsultationDate, fields.ConsultationTime, fields.ConsultationType}
	required := targets[:3]
	record := fields.Record{fields.Name: "a", fields.Phone: "b", fields.ConsultationDate: "c"}

	tests := []struct {
		name   string
		errors int
		want   float64
	}{
		{"no errors", 0, 0.35*0.6 + 0.25 + 0.2 + 0.1*0.2 + 0.1},
		{"one error", 1, 0.35*0.6 + 0.15 + 0.2 + 0.1*0.2 + 0.1},
		{"penalty floors at zero", 5, 0.35*0.6 + 0.2 + 0.1*0.2 + 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := computeFactors(confidenceInput{
				record: record, targets: targets, required: required,
				validationErrors: tt.errors, turns: 1, turnCap: 5, temporalResolved: true,
			})
			assert.InDelta(t, tt.want, f.Score(w), 1e-9)
		})
	}

	f := Factors{Completeness: 1, Validation: 1, Required: 1, Length: 1, Temporal: 1}
	assert.Equal(t, 1.0, f.Score(config.ConfidenceWeights{Completeness: 1, Validation: 1, Required: 1, Length: 1, Temporal: 1}))

	long := computeFactors(confidenceInput{turns: 40, turnCap: 5})
	assert.Equal(t, 1.0, long.Length)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("Qual é o seu nome?", "qual e o seu nome"))
	assert.Equal(t, 0.0, Jaccard("bom dia", "boa noite"))
	assert.Equal(t, 0.0, Jaccard("", "algo"))
	assert.InDelta(t, 0.5, Jaccard("a b c", "b c d"), 1e-9)
}

func TestLexicon(t *testing.T) {
	l := NewLexicon(nil, nil)
	tests := []struct {
		msg               string
		confirmed, denied bool
	}{
		{"Sim", true, false},
		{"tá bom, pode ser", true, false},
		{"Está correto!", true, false},
		{"não", false, true},
		{"nao, está errado", false, true},
		{"sim, mas mude o horário", false, true},
		{"quero marcar", false, false},
		{"simples", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c, d := l.Classify(tt.msg)
			assert.Equal(t, tt.confirmed, c)
			assert.Equal(t, tt.denied, d)
		})
	}
}

func TestDetectCorrections(t *testing.T) {
	prev := fields.Record{fields.Name: "Ana", fields.Phone: "1"}
	got := DetectCorrections(prev, fields.Record{fields.Name: "Ana", fields.Phone: "2", fields.ConsultationDate: "x"})
	assert.Equal(t, []Correction{{Field: fields.Phone, Previous: "1", Current: "2"}}, got)
}
