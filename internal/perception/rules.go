package perception

import (
	"context"
	"regexp"
	"strings"
	"time"

	"medintake/internal/fields"
	"medintake/internal/logging"
	"medintake/internal/session"
	"medintake/internal/textnorm"
	"medintake/internal/validation"
)

var (
	reCPF          = regexp.MustCompile(`(?i)\bcpf\b\D{0,12}?(\d[\d.\-]{9,13}\d)`)
	reCEP          = regexp.MustCompile(`(?i)\bcep\b\D{0,12}?(\d{5}-?\d{3}|\d[\d.\-]*\d)`)
	rePhoneLabel   = regexp.MustCompile(`(?i)\b(?:telefone|celular|fone|whatsapp|tel|contato)\b\D{0,20}?(\(?\d[\d()\s\-]*\d|\d)`)
	rePhoneBare    = regexp.MustCompile(`(?:\(\d{2}\)\s*|\b\d{2}\s?)9?\d{4}[\s\-]?\d{4}\b`)
	reNameIntro    = regexp.MustCompile(`(?i)\b(?:meu nome (?:é|e)|me chamo|eu sou (?:o |a )?|sou (?:o |a ))\s*([\p{L}'\-]+(?:\s+[\p{L}'\-]+)*)`)
	reCapitalized  = regexp.MustCompile(`(?:^|[^\p{L}\d])(\p{Lu}[\p{Ll}'\-]+(?:\s+(?:(?:de|da|do|dos|das|e)\s+)?\p{Lu}[\p{Ll}'\-]+)+)`)
	reOnlyLetters  = regexp.MustCompile(`^[\p{L}'\-\s]+$`)
	nameConnective = map[string]bool{"de": true, "da": true, "do": true, "dos": true, "das": true, "e": true}
)

// stopWords never start or continue a person's name.
var stopWords = func() map[string]bool {
	words := []string{
		"telefone", "celular", "fone", "whatsapp", "contato", "cpf", "cep",
		"consulta", "consultas", "exame", "medico", "medica", "doutor", "doutora", "dr", "dra",
		"para", "com", "amanha", "hoje", "ontem", "semana", "mes", "ano", "dia", "proxima", "proximo",
		"segunda", "terca", "quarta", "quinta", "sexta", "sabado", "domingo", "feira",
		"janeiro", "fevereiro", "marco", "abril", "maio", "junho", "julho", "agosto",
		"setembro", "outubro", "novembro", "dezembro",
		"manha", "tarde", "noite", "horas", "hora",
		"ola", "oi", "bom", "boa", "tudo", "bem", "obrigado", "obrigada",
		"quero", "gostaria", "preciso", "marcar", "agendar", "pode", "ser", "sim", "nao",
		"meu", "minha", "nome", "sou", "chamo", "eu", "o", "a", "as", "na", "no", "em",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

// RulesExtractor finds fields with regular expressions and small lexicons.
// It needs no network and is the last link of every extraction chain.
type RulesExtractor struct {
	dates *validation.DateValidator
}

// NewRulesExtractor returns a rules extractor. dates resolves temporal
// expressions; nil uses a wall-clock validator in the local zone.
func NewRulesExtractor(dates *validation.DateValidator) *RulesExtractor {
	if dates == nil {
		dates = validation.NewDateValidator(time.Local, 0, true)
	}
	return &RulesExtractor{dates: dates}
}

// Name implements Extractor.
func (r *RulesExtractor) Name() string { return "rules" }

// Extract implements Extractor. It never fails on content; an empty result
// is still a success.
func (r *RulesExtractor) Extract(ctx context.Context, message string, sc *session.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Failed(r.Name(), err), err
	}
	data := r.extract(message, sc)
	res := Result{Success: true, Data: data, Source: r.Name()}
	if len(data) > 0 {
		res.Confidence = 0.7
	}
	logging.PerceptionDebug("[rules] extracted %d fields from %d chars", len(data), len(message))
	return res, nil
}

func (r *RulesExtractor) extract(message string, sc *session.Context) map[string]string {
	data := make(map[string]string)
	work := message

	if m := reCPF.FindStringSubmatchIndex(work); m != nil {
		data["cpf"] = work[m[2]:m[3]]
		work = blank(work, m[0], m[1])
	}
	if m := reCEP.FindStringSubmatchIndex(work); m != nil {
		data["cep"] = work[m[2]:m[3]]
		work = blank(work, m[0], m[1])
	}
	if m := rePhoneLabel.FindStringSubmatchIndex(work); m != nil {
		data["telefone"] = strings.TrimSpace(work[m[2]:m[3]])
		work = blank(work, m[0], m[1])
	} else if m := rePhoneBare.FindStringIndex(work); m != nil {
		data["telefone"] = strings.TrimSpace(work[m[0]:m[1]])
		work = blank(work, m[0], m[1])
	}

	if expr, ok := r.dates.FindDateExpression(work); ok {
		data["data"] = expr
	}
	if expr, ok := validation.FindTimeExpression(work); ok {
		data["horario"] = expr
	}
	if specialty, ok := validation.MatchSpecialty(work); ok {
		data["tipo_consulta"] = specialty
	}
	if name := findName(work, expectsName(sc)); name != "" {
		data["nome"] = name
	}
	return data
}

// blank replaces work[start:end] with spaces so later patterns skip it while
// byte offsets stay valid.
func blank(work string, start, end int) string {
	return work[:start] + strings.Repeat(" ", end-start) + work[end:]
}

// expectsName reports whether the last reply asked for the patient's name.
func expectsName(sc *session.Context) bool {
	if sc == nil || sc.Extracted.Present(fields.Name) {
		return false
	}
	return strings.Contains(textnorm.Fold(sc.LastResponse), "nome")
}

func findName(text string, expected bool) string {
	if m := reNameIntro.FindStringSubmatch(text); m != nil {
		if name := trimName(strings.Fields(m[1]), true); name != "" {
			return name
		}
	}
	for _, m := range reCapitalized.FindAllStringSubmatch(text, -1) {
		if name := trimName(strings.Fields(m[1]), false); name != "" {
			return name
		}
	}
	if expected {
		t := strings.TrimSpace(strings.Trim(text, ".!"))
		if reOnlyLetters.MatchString(t) {
			return trimName(strings.Fields(t), false)
		}
	}
	return ""
}

// trimName drops leading stop words and cuts at the first stop word after
// the name starts. A name needs at least two words; after an explicit
// introduction a single word is kept so validation can ask for the surname.
func trimName(words []string, introduced bool) string {
	var out []string
	for _, w := range words {
		key := textnorm.Fold(strings.Trim(w, ".,;:!?"))
		if stopWords[key] {
			if len(out) == 0 {
				continue
			}
			break
		}
		if len(out) == 0 && nameConnective[key] {
			continue
		}
		out = append(out, strings.Trim(w, ".,;:!?"))
		if strings.ContainsAny(w, ".,;:!?") {
			break
		}
	}
	for len(out) > 0 && nameConnective[textnorm.Fold(out[len(out)-1])] {
		out = out[:len(out)-1]
	}
	if len(out) == 0 || (len(out) < 2 && !introduced) {
		return ""
	}
	return strings.Join(out, " ")
}
