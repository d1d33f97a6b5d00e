package reasoning

import (
	"fmt"
	"strings"
	"time"

	"medintake/internal/fields"
	"medintake/internal/session"
)

var fieldQuestions = map[fields.CanonicalField]string{
	fields.Name:             "Qual é o seu nome completo?",
	fields.Phone:            "Qual é o seu telefone para contato?",
	fields.ConsultationDate: "Para qual data você gostaria de agendar?",
	fields.ConsultationTime: "Qual horário seria melhor para você?",
	fields.DocumentID:       "Qual é o seu CPF?",
	fields.PostalCode:       "Qual é o seu CEP?",
	fields.ConsultationType: "Que tipo de consulta você precisa?",
	fields.Notes:            "Alguma observação para a consulta?",
}

// Composer renders Portuguese replies from a decision. It only selects and
// fills templates.
type Composer struct{}

// NewComposer returns a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Question returns the question that requests f.
func (c *Composer) Question(f fields.CanonicalField) string {
	if q, ok := fieldQuestions[f]; ok {
		return q
	}
	return fmt.Sprintf("Pode me informar o %s?", strings.ToLower(f.Label()))
}

// Questions returns one question per field, in the given order.
func (c *Composer) Questions(missing []fields.CanonicalField) []string {
	out := make([]string, 0, len(missing))
	for _, f := range missing {
		out = append(out, c.Question(f))
	}
	return out
}

// draft is everything the composer needs for one reply.
type draft struct {
	action      session.Action
	missing     []fields.CanonicalField
	incoming    fields.Record
	record      fields.Record
	corrections []Correction
	errors      []string
	denied      bool
	strategy    string
}

func (c *Composer) compose(d draft) string {
	switch d.action {
	case session.ActionExtract:
		return c.extractReply(d)
	case session.ActionAsk:
		return c.askReply(d)
	case session.ActionConfirm:
		if d.denied && len(d.incoming) == 0 {
			return "Sem problemas! Qual informação você gostaria de corrigir?"
		}
		prefix := "Perfeito! "
		if len(d.corrections) > 0 {
			prefix = correctionNote(d.corrections) + " "
		}
		return prefix + "Vou confirmar os dados da sua consulta:\n\n" + bulletSummary(d.record) + "\n\nEstá tudo correto?"
	case session.ActionComplete:
		return "Excelente! Sua consulta foi agendada com sucesso:\n\n" + bulletSummary(d.record) + "\n\nObrigado por escolher nossos serviços!"
	default:
		return "Desculpe, não entendi completamente. Pode reformular sua mensagem?"
	}
}

func (c *Composer) extractReply(d draft) string {
	var parts []string
	if len(d.errors) > 0 {
		parts = append(parts, "Entendi! Mas preciso de algumas correções: "+formatErrors(d.errors)+".")
	}
	if len(d.corrections) > 0 {
		parts = append(parts, correctionNote(d.corrections))
	}
	if ack := acknowledgement(d.incoming, d.corrections); ack != "" && len(d.errors) == 0 {
		parts = append(parts, ack)
	}
	parts = append(parts, c.nextRequest(d))
	return strings.Join(parts, " ")
}

func (c *Composer) askReply(d draft) string {
	if len(d.missing) == 0 {
		return "Preciso de mais informações para agendar sua consulta. Pode me dizer seu nome?"
	}
	req := c.nextRequest(d)
	if len(d.errors) > 0 {
		return "Entendi! Mas preciso de algumas correções: " + formatErrors(d.errors) + ". " + req
	}
	return req
}

func (c *Composer) nextRequest(d draft) string {
	if len(d.missing) == 0 {
		return "Agora posso confirmar os dados da sua consulta?"
	}
	if d.strategy == StrategyBatch {
		return "Para continuar, preciso de " + joinLabels(d.missing) + "."
	}
	return c.Question(d.missing[0])
}

// alternative rephrases an ask when the conversation is stuck.
func (c *Composer) alternative(sc *session.Context, missing []fields.CanonicalField, repetitions, maxRepetitions int) string {
	if len(missing) == 0 {
		return "Agora posso confirmar os dados da sua consulta?"
	}
	if repetitions >= maxRepetitions {
		if len(missing) == 1 {
			return fmt.Sprintf("Vou ser mais direto: preciso do %s. Pode me informar?", strings.ToLower(missing[0].Label()))
		}
		return fmt.Sprintf("Vou simplificar: preciso de %s. Pode me passar essas informações?", joinLabels(missing))
	}
	return fmt.Sprintf("Vejo que já temos %s. Para completar o agendamento, preciso apenas de %s. Pode me ajudar?",
		inlineSummary(sc.Extracted), joinLabels(missing))
}

// Error renders the reply for a failed turn.
func (c *Composer) Error(msg string) string {
	return fmt.Sprintf("Desculpe, ocorreu um erro: %s. Pode tentar novamente?", msg)
}

func acknowledgement(incoming fields.Record, corrections []Correction) string {
	corrected := make(map[fields.CanonicalField]bool, len(corrections))
	for _, c := range corrections {
		corrected[c.Field] = true
	}
	var items []string
	for _, f := range incoming.Ordered() {
		if !corrected[f] {
			items = append(items, f.Label()+": "+displayValue(f, incoming[f]))
		}
	}
	if len(items) == 0 {
		return ""
	}
	return "Anotado! " + joinPortuguese(items) + "."
}

func correctionNote(corrections []Correction) string {
	items := make([]string, 0, len(corrections))
	for _, c := range corrections {
		items = append(items, fmt.Sprintf("%s de %s para %s", c.Field.Label(), displayValue(c.Field, c.Previous), displayValue(c.Field, c.Current)))
	}
	return "Corrigido: " + joinPortuguese(items) + "."
}

func bulletSummary(r fields.Record) string {
	lines := make([]string, 0, len(r))
	for _, f := range r.Ordered() {
		lines = append(lines, "• "+f.Label()+": "+displayValue(f, r[f]))
	}
	return strings.Join(lines, "\n")
}

func inlineSummary(r fields.Record) string {
	var items []string
	for _, f := range r.Ordered() {
		items = append(items, f.Label()+": "+displayValue(f, r[f]))
	}
	if len(items) == 0 {
		return "nenhuma informação"
	}
	return strings.Join(items, ", ")
}

// displayValue shows ISO dates the way users write them.
func displayValue(f fields.CanonicalField, v string) string {
	if f == fields.ConsultationDate {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return v
}

func formatErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

func joinLabels(fs []fields.CanonicalField) string {
	labels := make([]string, len(fs))
	for i, f := range fs {
		labels[i] = f.Label()
	}
	return joinPortuguese(labels)
}

// joinPortuguese joins items as "a, b e c".
func joinPortuguese(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " e " + items[len(items)-1]
	}
}
