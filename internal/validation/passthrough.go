package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"medintake/internal/textnorm"
)

type specialty struct {
	stem      string
	canonical string
}

// specialties maps folded word stems to the specialty name shown to users.
// Longer stems come first so "clinica geral" is preferred over "clinic".
var specialties = []specialty{
	{"otorrino", "Otorrinolaringologia"},
	{"clinica geral", "Clínica Geral"},
	{"clinico geral", "Clínica Geral"},
	{"endocrino", "Endocrinologia"},
	{"oftalmo", "Oftalmologia"},
	{"psiquiat", "Psiquiatria"},
	{"psicolog", "Psicologia"},
	{"pneumo", "Pneumologia"},
	{"gastro", "Gastroenterologia"},
	{"dermato", "Dermatologia"},
	{"ortoped", "Ortopedia"},
	{"pediatr", "Pediatria"},
	{"cardio", "Cardiologia"},
	{"gineco", "Ginecologia"},
	{"urolog", "Urologia"},
	{"nutri", "Nutrição"},
	{"neuro", "Neurologia"},
	{"clinic", "Clínica Geral"},
	{"rotina", "Consulta de rotina"},
	{"checkup", "Check-up"},
	{"check-up", "Check-up"},
	{"retorno", "Retorno"},
}

// MatchSpecialty finds the first specialty mentioned in text.
func MatchSpecialty(text string) (string, bool) {
	folded := textnorm.Fold(text)
	for _, s := range specialties {
		if strings.Contains(folded, s.stem) {
			return s.canonical, true
		}
	}
	return "", false
}

// TextValidator accepts free text, optionally canonicalizing it.
// It backs consultation_type and notes.
type TextValidator struct {
	Label        string
	MaxLen       int
	Canonicalize func(string) (string, bool)
}

// NewConsultationTypeValidator canonicalizes specialties such as "cardio"
// into "Cardiologia". Unknown types are kept with reduced confidence.
func NewConsultationTypeValidator() *TextValidator {
	return &TextValidator{Label: "Tipo de consulta", MaxLen: 100, Canonicalize: MatchSpecialty}
}

// NewNotesValidator accepts any non-empty note up to 500 characters.
func NewNotesValidator() *TextValidator {
	return &TextValidator{Label: "Observações", MaxLen: 500}
}

// Validate implements Validator.
func (v *TextValidator) Validate(raw string) Outcome {
	text := clean(raw)
	if text == "" {
		return invalid(raw, nil, fmt.Sprintf("%s não informado", v.Label))
	}
	if v.MaxLen > 0 && utf8.RuneCountInString(text) > v.MaxLen {
		return invalid(raw, nil, fmt.Sprintf("%s muito longo (máximo %d caracteres)", v.Label, v.MaxLen))
	}
	if v.Canonicalize == nil {
		return valid(raw, text, 1.0, nil, nil)
	}
	if canonical, ok := v.Canonicalize(text); ok {
		return valid(raw, canonical, 1.0, nil, map[string]interface{}{"recognized": true})
	}
	return valid(raw, upperFirst(text), 0.8,
		[]string{fmt.Sprintf("%s não reconhecido: %s", v.Label, text)},
		map[string]interface{}{"recognized": false})
}

// Normalize implements Validator.
func (v *TextValidator) Normalize(raw string) string {
	return v.Validate(raw).Normalized
}

// Suggest implements Validator.
func (v *TextValidator) Suggest(string) []string {
	if v.Canonicalize == nil {
		return nil
	}
	return []string{"Clínica Geral", "Cardiologia", "Dermatologia", "Pediatria"}
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToUpper(string(r)) + s[size:]
}
