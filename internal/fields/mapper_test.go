package fields

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapFieldName(t *testing.T) {
	m := NewMapper(nil)

	tests := []struct {
		raw  string
		want CanonicalField
	}{
		{"nome", Name},
		{"Nome_Completo", Name},
		{"paciente", Name},
		{"fone", Phone},
		{"TELEFONE", Phone},
		{"phone", Phone},
		{"quando", ConsultationDate},
		{"horário", ConsultationTime},
		{"que horas", ConsultationTime},
		{"documento", DocumentID},
		{"cep", PostalCode},
		{"especialidade", ConsultationType},
		{"observações", Notes},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := m.MapFieldName(tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := m.MapFieldName("favorite_color")
	assert.False(t, ok)
}

func TestMapRecord(t *testing.T) {
	m := NewMapper(nil)
	got := m.MapRecord(map[string]string{
		"nome":    "João Silva",
		"celular": "11999888777",
		"extra":   "x",
	})

	want := Record{Name: "João Silva", Phone: "11999888777"}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Errorf("mapped fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"extra"}, got.UnmappedKeys())
}

func TestMapRecordBlankAliasKeepsValue(t *testing.T) {
	m := NewMapper(nil)

	got := m.MapRecord(map[string]string{"phone": "11999888777", "telefone": ""})
	assert.Equal(t, Record{Phone: "11999888777"}, got.Fields)

	got = m.MapRecord(map[string]string{"celular": "  ", "fone": "11999888777"})
	assert.Equal(t, Record{Phone: "11999888777"}, got.Fields)
}

func TestRequiredFields(t *testing.T) {
	m := NewMapper(nil)
	assert.Equal(t, []CanonicalField{Name, Phone, ConsultationDate}, m.RequiredFields())
}

func TestValidateFieldNames(t *testing.T) {
	m := NewMapper(nil)
	report := m.ValidateFieldNames(map[string]string{
		"nome":   "Ana Costa",
		"fone":   "",
		"random": "1",
	})

	assert.Equal(t, Name, report.Mapped["nome"])
	assert.Equal(t, Phone, report.Mapped["fone"])
	assert.Equal(t, []string{"random"}, report.Unmapped)
	assert.Equal(t, []CanonicalField{Phone, ConsultationDate}, report.MissingRequired)
}

func TestRecordHelpers(t *testing.T) {
	r := Record{ConsultationDate: "2026-10-16", Name: "Ana Costa", Notes: ""}
	assert.Equal(t, []CanonicalField{Name, ConsultationDate}, r.Ordered())
	assert.Equal(t, []CanonicalField{Phone}, Missing([]CanonicalField{Name, Phone, ConsultationDate}, r))

	c := r.Clone()
	c[Name] = "x"
	assert.Equal(t, "Ana Costa", r[Name])
	assert.True(t, Phone.Valid())
	assert.False(t, CanonicalField("age").Valid())
	assert.Equal(t, 1, Phone.Rank())
}
