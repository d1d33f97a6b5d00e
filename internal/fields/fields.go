// Package fields defines the closed set of canonical intake fields and the
// registry that maps the many raw spellings a field may arrive under onto one
// canonical name.
package fields

// CanonicalField identifies one semantic piece of intake data.
type CanonicalField string

const (
	Name             CanonicalField = "name"
	Phone            CanonicalField = "phone"
	ConsultationDate CanonicalField = "consultation_date"
	ConsultationTime CanonicalField = "consultation_time"
	DocumentID       CanonicalField = "document_id"
	PostalCode       CanonicalField = "postal_code"
	ConsultationType CanonicalField = "consultation_type"
	Notes            CanonicalField = "notes"
)

// All lists every canonical field in canonical order.
var All = []CanonicalField{
	Name,
	Phone,
	ConsultationDate,
	ConsultationTime,
	DocumentID,
	PostalCode,
	ConsultationType,
	Notes,
}

// Valid reports whether f is a member of the canonical set.
func (f CanonicalField) Valid() bool {
	for _, c := range All {
		if c == f {
			return true
		}
	}
	return false
}

// Label returns the Portuguese display label used in replies.
func (f CanonicalField) Label() string {
	switch f {
	case Name:
		return "Nome"
	case Phone:
		return "Telefone"
	case ConsultationDate:
		return "Data"
	case ConsultationTime:
		return "Horário"
	case DocumentID:
		return "CPF"
	case PostalCode:
		return "CEP"
	case ConsultationType:
		return "Tipo de consulta"
	case Notes:
		return "Observações"
	default:
		return string(f)
	}
}

// Rank returns the position of f in canonical order, or len(All) when f is
// not canonical.
func (f CanonicalField) Rank() int {
	for i, c := range All {
		if c == f {
			return i
		}
	}
	return len(All)
}

// Record is a typed record keyed by canonical field.
type Record map[CanonicalField]string

// Clone returns a shallow copy of r. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Present reports whether f holds a non-empty value.
func (r Record) Present(f CanonicalField) bool {
	return r[f] != ""
}

// Ordered returns the populated fields of r in canonical order.
func (r Record) Ordered() []CanonicalField {
	var out []CanonicalField
	for _, f := range All {
		if r.Present(f) {
			out = append(out, f)
		}
	}
	return out
}
