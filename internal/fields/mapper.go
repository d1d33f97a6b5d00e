package fields

import (
	"sort"
	"strings"

	"medintake/internal/textnorm"
)

// Spec describes how one canonical field may be spelled in a raw record.
type Spec struct {
	Canonical   CanonicalField
	Source      string
	Aliases     []string
	Required    bool
	Description string
}

// DefaultSpecs is the static alias table. Required fields appear in the order
// the intake conversation asks for them.
var DefaultSpecs = []Spec{
	{
		Canonical:   Name,
		Source:      "nome",
		Aliases:     []string{"nome_completo", "nome_paciente", "paciente", "full_name", "patient_name"},
		Required:    true,
		Description: "Nome completo do paciente",
	},
	{
		Canonical:   Phone,
		Source:      "telefone",
		Aliases:     []string{"tel", "celular", "fone", "telefone_contato", "phone_number", "mobile"},
		Required:    true,
		Description: "Telefone para contato",
	},
	{
		Canonical:   ConsultationDate,
		Source:      "data",
		Aliases:     []string{"data_consulta", "data_agendamento", "quando", "date"},
		Required:    true,
		Description: "Data da consulta",
	},
	{
		Canonical:   ConsultationTime,
		Source:      "horario",
		Aliases:     []string{"hora", "horario_consulta", "que_horas", "time"},
		Description: "Horário da consulta",
	},
	{
		Canonical:   DocumentID,
		Source:      "cpf",
		Aliases:     []string{"documento", "cpf_paciente", "document"},
		Description: "CPF do paciente",
	},
	{
		Canonical:   PostalCode,
		Source:      "cep",
		Aliases:     []string{"codigo_postal", "cep_residencia", "zip", "zip_code"},
		Description: "CEP de residência",
	},
	{
		Canonical:   ConsultationType,
		Source:      "tipo_consulta",
		Aliases:     []string{"tipo", "especialidade", "motivo_consulta", "specialty"},
		Description: "Tipo ou especialidade da consulta",
	},
	{
		Canonical:   Notes,
		Source:      "observacoes",
		Aliases:     []string{"obs", "comentarios", "detalhes", "observacao"},
		Description: "Observações adicionais",
	},
}

// Mapped is the result of mapping a raw record.
type Mapped struct {
	Fields   Record
	Unmapped map[string]string
}

// UnmappedKeys returns the sorted raw keys that did not map to a canonical field.
func (m Mapped) UnmappedKeys() []string {
	keys := make([]string, 0, len(m.Unmapped))
	for k := range m.Unmapped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NameReport classifies the keys of a raw record.
type NameReport struct {
	Mapped          map[string]CanonicalField `json:"mapped"`
	Unmapped        []string                  `json:"unmapped,omitempty"`
	MissingRequired []CanonicalField          `json:"missing_required,omitempty"`
}

// Mapper translates raw field names into canonical ones.
type Mapper struct {
	specs  []Spec
	lookup map[string]CanonicalField
}

// NewMapper builds a mapper over specs. Passing nil uses DefaultSpecs.
func NewMapper(specs []Spec) *Mapper {
	if specs == nil {
		specs = DefaultSpecs
	}
	m := &Mapper{specs: specs, lookup: make(map[string]CanonicalField)}
	for _, s := range specs {
		m.lookup[foldKey(string(s.Canonical))] = s.Canonical
		m.lookup[foldKey(s.Source)] = s.Canonical
		for _, a := range s.Aliases {
			m.lookup[foldKey(a)] = s.Canonical
		}
	}
	return m
}

func foldKey(k string) string {
	k = textnorm.Fold(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

// MapFieldName resolves raw to its canonical field.
func (m *Mapper) MapFieldName(raw string) (CanonicalField, bool) {
	f, ok := m.lookup[foldKey(raw)]
	return f, ok
}

// MapRecord maps every key of raw. When two raw keys map to the same field
// the non-blank one that sorts last wins, so the result does not depend on
// map order and an empty alias never hides a filled one.
func (m *Mapper) MapRecord(raw map[string]string) Mapped {
	out := Mapped{Fields: make(Record), Unmapped: make(map[string]string)}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f, ok := m.MapFieldName(k); ok {
			if _, seen := out.Fields[f]; seen && strings.TrimSpace(raw[k]) == "" {
				continue
			}
			out.Fields[f] = raw[k]
			continue
		}
		out.Unmapped[k] = raw[k]
	}
	return out
}

// RequiredFields returns the required canonical fields in canonical order.
func (m *Mapper) RequiredFields() []CanonicalField {
	var out []CanonicalField
	for _, s := range m.specs {
		if s.Required {
			out = append(out, s.Canonical)
		}
	}
	return out
}

// Spec returns the table entry for f.
func (m *Mapper) Spec(f CanonicalField) (Spec, bool) {
	for _, s := range m.specs {
		if s.Canonical == f {
			return s, true
		}
	}
	return Spec{}, false
}

// ValidateFieldNames reports which raw keys map, which do not, and which
// required fields have no non-empty value.
func (m *Mapper) ValidateFieldNames(raw map[string]string) NameReport {
	report := NameReport{Mapped: make(map[string]CanonicalField)}
	present := make(map[CanonicalField]bool)
	for k, v := range raw {
		f, ok := m.MapFieldName(k)
		if !ok {
			report.Unmapped = append(report.Unmapped, k)
			continue
		}
		report.Mapped[k] = f
		if strings.TrimSpace(v) != "" {
			present[f] = true
		}
	}
	sort.Strings(report.Unmapped)
	for _, f := range m.RequiredFields() {
		if !present[f] {
			report.MissingRequired = append(report.MissingRequired, f)
		}
	}
	return report
}

// Missing returns the required fields absent from r, in canonical order.
func Missing(required []CanonicalField, r Record) []CanonicalField {
	var out []CanonicalField
	for _, f := range required {
		if !r.Present(f) {
			out = append(out, f)
		}
	}
	return out
}
