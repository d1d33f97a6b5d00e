package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"medintake/internal/fields"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestOrchestrator() *Orchestrator {
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	opts.Location = time.UTC
	return NewDefaultOrchestrator(nil, opts)
}

type panicValidator struct{}

func (panicValidator) Validate(string) Outcome { panic("boom") }
func (panicValidator) Normalize(string) string { return "" }
func (panicValidator) Suggest(string) []string { return nil }

func TestOrchestrator_EmptyRecord(t *testing.T) {
	o := newTestOrchestrator()
	for _, mode := range []Mode{ModeStrict, ModePermissive} {
		s := o.Validate(map[string]string{}, mode, nil)
		assert.False(t, s.Valid)
		assert.Equal(t, []string{"Dados vazios fornecidos"}, s.Errors)
		assert.Equal(t, 1, s.TotalErrors)
	}
}

func TestOrchestrator_PermissiveAllValid(t *testing.T) {
	o := newTestOrchestrator()
	s := o.Validate(map[string]string{
		"nome":          "joão silva",
		"Telefone":      "11999888777",
		"data_consulta": "amanhã",
		"horário":       "14h",
	}, ModePermissive, nil)

	require.True(t, s.Valid, s.Errors)
	want := fields.Record{
		fields.Name:             "João Silva",
		fields.Phone:            "(11) 99988-8777",
		fields.ConsultationDate: "2026-10-16",
		fields.ConsultationTime: "14:00",
	}
	if diff := cmp.Diff(want, s.Normalized); diff != "" {
		t.Errorf("normalized mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	assert.Zero(t, s.TotalErrors)
}

func TestOrchestrator_WeightedConfidence(t *testing.T) {
	o := newTestOrchestrator()
	// phone 0.9 at weight 1.2, name 1.0 at weight 1.0, date 1.0 at weight 1.1
	s := o.Validate(map[string]string{
		"nome":     "João Silva",
		"telefone": "11599988877",
		"data":     "amanhã",
	}, ModePermissive, nil)

	require.True(t, s.Valid)
	want := (1.0*1.0 + 0.9*1.2 + 1.0*1.1) / (1.0 + 1.2 + 1.1)
	assert.InDelta(t, want, s.Confidence, 1e-9)
	assert.Equal(t, 1, s.TotalWarnings)
}

func TestOrchestrator_PermissiveCollectsErrors(t *testing.T) {
	o := newTestOrchestrator()
	s := o.Validate(map[string]string{
		"nome":     "João Silva",
		"telefone": "123",
		"data":     "amanhã",
		"xyz":      "??",
	}, ModePermissive, nil)

	assert.False(t, s.Valid)
	assert.Equal(t, 1, s.TotalErrors)
	assert.NotEmpty(t, s.FieldErrors(fields.Phone))
	assert.Equal(t, "João Silva", s.Normalized[fields.Name])
	_, hasPhone := s.Normalized[fields.Phone]
	assert.False(t, hasPhone)
	assert.Equal(t, map[string]string{"xyz": "??"}, s.Unmapped)
	assert.NotEmpty(t, s.GeneralSuggestions)
}

func TestOrchestrator_StrictAborts(t *testing.T) {
	o := newTestOrchestrator()

	t.Run("missing required", func(t *testing.T) {
		s := o.Validate(map[string]string{"nome": "João Silva"}, ModeStrict, nil)
		assert.False(t, s.Valid)
		assert.Empty(t, s.Normalized)
		assert.Equal(t, []fields.CanonicalField{fields.Phone, fields.ConsultationDate}, s.MissingRequired)
		assert.NotEmpty(t, s.GeneralSuggestions)
	})

	t.Run("invalid value", func(t *testing.T) {
		s := o.Validate(map[string]string{
			"nome":     "João Silva",
			"telefone": "123",
			"data":     "amanhã",
		}, ModeStrict, nil)
		assert.False(t, s.Valid)
		assert.Empty(t, s.Normalized)
	})
}

func TestOrchestrator_SuggestionsOnlyIsAlwaysValid(t *testing.T) {
	o := newTestOrchestrator()
	s := o.Validate(map[string]string{"telefone": "123"}, ModeSuggestionsOnly, nil)
	assert.True(t, s.Valid)
	assert.Greater(t, s.TotalErrors, 0)
	assert.NotEmpty(t, s.GeneralSuggestions)
}

func TestOrchestrator_CustomRequiredFields(t *testing.T) {
	o := newTestOrchestrator()
	s := o.Validate(map[string]string{"telefone": "11999888777"}, ModePermissive, []fields.CanonicalField{fields.Phone})
	assert.True(t, s.Valid)
	assert.Empty(t, s.MissingRequired)
}

func TestOrchestrator_RecoversValidatorPanic(t *testing.T) {
	o := newTestOrchestrator()
	o.Register(fields.Notes, panicValidator{}, 0.3)

	s := o.Validate(map[string]string{
		"nome":        "João Silva",
		"telefone":    "11999888777",
		"data":        "amanhã",
		"observacoes": "trazer exames",
	}, ModePermissive, nil)

	out := s.PerField[fields.Notes]
	assert.False(t, out.Valid)
	assert.Equal(t, 0.0, out.Confidence)
	assert.NotEmpty(t, out.Errors)
	assert.Equal(t, "João Silva", s.Normalized[fields.Name])
	assert.False(t, s.Valid)
}

func TestOrchestrator_NoValidFieldsMeansZeroConfidence(t *testing.T) {
	o := newTestOrchestrator()
	s := o.Validate(map[string]string{"telefone": "1"}, ModePermissive, []fields.CanonicalField{})
	assert.Equal(t, 0.0, s.Confidence)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("STRICT")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePermissive, m)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}

func TestNormalizer(t *testing.T) {
	n := NewNormalizer(newTestOrchestrator(), ModePermissive)

	res := n.Normalize(map[string]string{
		"nome":     "joão silva",
		"telefone": "11999888777",
		"cor":      "azul",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "João Silva", res.Normalized[fields.Name])
	assert.Equal(t, []string{"cor"}, res.Mapping.Unmapped)
	assert.Equal(t, []fields.CanonicalField{fields.ConsultationDate}, res.Mapping.MissingRequired)
	assert.InDelta(t, res.Summary.Confidence-0.1-0.2, res.Confidence, 1e-9)
	assert.Contains(t, res.Recommendations, "Campo não reconhecido: cor")
	assert.Contains(t, res.Recommendations, "Campo obrigatório ausente: Data")
	assert.Equal(t, "azul", res.Original["cor"])
}

func TestValidateBatch(t *testing.T) {
	o := newTestOrchestrator()
	records := make([]map[string]string, 20)
	for i := range records {
		records[i] = map[string]string{
			"nome":     "Paciente Teste",
			"telefone": fmt.Sprintf("119%08d", i),
			"data":     "amanhã",
		}
	}

	got, err := ValidateBatch(context.Background(), o, records, ModePermissive, nil, 4)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i, s := range got {
		assert.True(t, s.Valid, "record %d", i)
		assert.Equal(t, fmt.Sprintf("(11) 9%04d-%04d", i/10000, i%10000), s.Normalized[fields.Phone])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ValidateBatch(ctx, o, records, ModePermissive, nil, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_BlankAliasDoesNotHideValue(t *testing.T) {
	s := newTestOrchestrator().Validate(map[string]string{
		"phone":    "11999888777",
		"telefone": "",
	}, ModePermissive, []fields.CanonicalField{fields.Phone})
	assert.True(t, s.Valid, s.Errors)
	assert.Empty(t, s.MissingRequired)
	assert.Equal(t, "(11) 99988-8777", s.Normalized[fields.Phone])
}
