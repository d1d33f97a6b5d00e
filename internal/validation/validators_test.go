package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneValidator(t *testing.T) {
	p := NewPhoneValidator()

	tests := []struct {
		name       string
		raw        string
		valid      bool
		normalized string
		confidence float64
		mobile     bool
	}{
		{"mobile digits", "11999888777", true, "(11) 99988-8777", 1.0, true},
		{"mobile formatted", "(21) 98765-4321", true, "(21) 98765-4321", 1.0, true},
		{"landline", "11 3333-4444", true, "(11) 3333-4444", 1.0, false},
		{"atypical mobile", "11599988877", true, "(11) 59998-8877", 0.9, true},
		{"too short", "123", false, "", 0, false},
		{"bad ddd", "0999888777", false, "", 0, false},
		{"empty", "", false, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Validate(tt.raw)
			assert.Equal(t, tt.valid, out.Valid)
			assert.Equal(t, tt.normalized, out.Normalized)
			assert.InDelta(t, tt.confidence, out.Confidence, 1e-9)
			assert.Equal(t, tt.raw, out.Original)
			if tt.valid {
				assert.Equal(t, tt.mobile, out.Metadata["is_mobile"])
			} else {
				assert.NotEmpty(t, out.Errors)
			}
		})
	}
}

func TestPhoneSuggestions(t *testing.T) {
	p := NewPhoneValidator()

	t.Run("extra leading digits keep the tail", func(t *testing.T) {
		got := p.Suggest("5511999888777")
		require.NotEmpty(t, got)
		assert.Equal(t, "(11) 99988-8777", got[0])
		assert.LessOrEqual(t, len(got), 5)
	})

	t.Run("bad area code is replaced", func(t *testing.T) {
		got := p.Suggest("0999888777")
		require.NotEmpty(t, got)
		assert.Equal(t, "(11) 9988-8777", got[0])
	})

	t.Run("garbage falls back to examples", func(t *testing.T) {
		got := p.Suggest("abc")
		assert.Len(t, got, 5)
	})
}

func TestCPFValidator(t *testing.T) {
	v := NewCPFValidator()

	out := v.Validate("52998224725")
	require.True(t, out.Valid, out.Errors)
	assert.Equal(t, "529.982.247-25", out.Normalized)

	out = v.Validate("529.982.247-25")
	assert.True(t, out.Valid)

	out = v.Validate("111.111.111-11")
	assert.False(t, out.Valid)
	assert.Empty(t, out.Normalized)

	out = v.Validate("529.982.247-26")
	assert.False(t, out.Valid)
	assert.Equal(t, []string{"529.982.247-25"}, out.Suggestions)

	// First check digit flipped.
	out = v.Validate("529.982.247-15")
	assert.False(t, out.Valid)
	assert.Empty(t, out.Normalized)

	out = v.Validate("1234")
	assert.False(t, out.Valid)
}

func TestCEPValidator(t *testing.T) {
	v := NewCEPValidator()

	out := v.Validate("01310100")
	require.True(t, out.Valid)
	assert.Equal(t, "01310-100", out.Normalized)
	assert.Equal(t, "01", out.Metadata["region_code"])
	assert.Equal(t, 1.0, out.Confidence)

	out = v.Validate("00000-000")
	assert.True(t, out.Valid)
	assert.Equal(t, 0.7, out.Confidence)
	assert.NotEmpty(t, out.Warnings)

	out = v.Validate("11111111")
	assert.True(t, out.Valid)
	assert.Equal(t, 0.8, out.Confidence)

	out = v.Validate("1234")
	assert.False(t, out.Valid)
}

func TestNameValidator(t *testing.T) {
	v := NewNameValidator(2)

	tests := []struct {
		raw  string
		want string
	}{
		{"joão silva", "João Silva"},
		{"MARIA DOS SANTOS", "Maria dos Santos"},
		{"  ana   da   costa  ", "Ana da Costa"},
		{"ana-clara souza", "Ana-Clara Souza"},
		{"Pedro de Alcântara", "Pedro de Alcântara"},
		{"maria d'ávila", "Maria D'Ávila"},
		{"PATRICK O'NEIL", "Patrick O'Neil"},
		{"ana-clara d'ávila", "Ana-Clara D'Ávila"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			out := v.Validate(tt.raw)
			require.True(t, out.Valid, out.Errors)
			assert.Equal(t, tt.want, out.Normalized)
		})
	}

	t.Run("single word", func(t *testing.T) {
		out := v.Validate("joão")
		assert.False(t, out.Valid)
		assert.Equal(t, []string{"João Silva", "João Santos", "João Oliveira"}, out.Suggestions)
	})

	t.Run("digits are rejected", func(t *testing.T) {
		out := v.Validate("J0ão Silva")
		assert.False(t, out.Valid)
	})

	t.Run("initial lowers confidence", func(t *testing.T) {
		out := v.Validate("João J Silva")
		assert.True(t, out.Valid)
		assert.Equal(t, 0.8, out.Confidence)
		assert.Len(t, out.Warnings, 1)
	})

	t.Run("too short", func(t *testing.T) {
		assert.False(t, v.Validate("a").Valid)
	})

	t.Run("min words is configurable", func(t *testing.T) {
		assert.True(t, NewNameValidator(1).Validate("joão").Valid)
	})
}

func TestTimeOfDayValidator(t *testing.T) {
	v := NewTimeOfDayValidator(7, 22)

	tests := []struct {
		raw        string
		want       string
		confidence float64
	}{
		{"14h", "14:00", 1.0},
		{"às 14h", "14:00", 1.0},
		{"14:30", "14:30", 1.0},
		{"9h30", "09:30", 1.0},
		{"10 horas", "10:00", 1.0},
		{"2 da tarde", "14:00", 1.0},
		{"8", "08:00", 1.0},
		{"meio-dia", "12:00", 1.0},
		{"à tarde", "13:00", 0.8},
		{"de manhã", "08:00", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			out := v.Validate(tt.raw)
			require.True(t, out.Valid, out.Errors)
			assert.Equal(t, tt.want, out.Normalized)
			assert.Equal(t, tt.confidence, out.Confidence)
		})
	}

	for _, raw := range []string{"meia-noite", "25:00", "6h", "quando der"} {
		t.Run("invalid "+raw, func(t *testing.T) {
			out := v.Validate(raw)
			assert.False(t, out.Valid)
			assert.Empty(t, out.Normalized)
			assert.NotEmpty(t, out.Suggestions)
		})
	}

	assert.Equal(t, periodSlots("tarde"), v.Suggest("pela tarde"))
	assert.True(t, MentionsTime("consulta às 14h"))
	assert.False(t, MentionsTime("João Silva"))
}

func TestConsultationTypeValidator(t *testing.T) {
	v := NewConsultationTypeValidator()

	out := v.Validate("consulta de cardiologia")
	require.True(t, out.Valid)
	assert.Equal(t, "Cardiologia", out.Normalized)
	assert.Equal(t, 1.0, out.Confidence)

	out = v.Validate("acupuntura")
	require.True(t, out.Valid)
	assert.Equal(t, "Acupuntura", out.Normalized)
	assert.Equal(t, 0.8, out.Confidence)

	assert.False(t, v.Validate("   ").Valid)

	got, ok := MatchSpecialty("preciso de um Dermatologista")
	assert.True(t, ok)
	assert.Equal(t, "Dermatologia", got)
}

func TestNormalizedValuesRevalidate(t *testing.T) {
	tests := []struct {
		name string
		v    Validator
		raw  []string
	}{
		{"phone", NewPhoneValidator(), []string{"11999888777", "(21) 98765-4321", "11 3333-4444", "11599988877"}},
		{"cpf", NewCPFValidator(), []string{"52998224725", "529.982.247-25"}},
		{"cep", NewCEPValidator(), []string{"01310100", "01310-100"}},
		{"name", NewNameValidator(2), []string{"joão silva", "MARIA DOS SANTOS", "ana-clara souza", "maria d'ávila"}},
		{"date", newTestDateValidator(), []string{"amanhã", "próxima segunda", "20/10/2026", "2026-11-02"}},
		{"time", NewTimeOfDayValidator(7, 22), []string{"14h", "9h30", "2 da tarde", "meio-dia", "de manhã"}},
		{"type", NewConsultationTypeValidator(), []string{"cardio", "consulta de cardiologia", "clínico geral"}},
	}
	for _, tt := range tests {
		for _, raw := range tt.raw {
			t.Run(tt.name+"/"+raw, func(t *testing.T) {
				first := tt.v.Validate(raw)
				require.True(t, first.Valid, first.Errors)

				again := tt.v.Validate(first.Normalized)
				require.True(t, again.Valid, again.Errors)
				assert.Equal(t, first.Normalized, again.Normalized)
				assert.Equal(t, first.Normalized, tt.v.Normalize(first.Normalized))
			})
		}
	}
}
