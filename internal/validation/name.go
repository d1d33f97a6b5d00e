package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"medintake/internal/textnorm"
)

var nameCharset = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s\-'.]+$`)

// connectives stay lowercase when they appear between other words.
var connectives = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "e": true,
	"em": true, "na": true, "no": true, "nas": true, "nos": true,
	"para": true, "por": true, "com": true, "sem": true, "sob": true,
	"sobre": true, "entre": true, "contra": true, "desde": true, "até": true,
	"ante": true, "após": true, "perante": true, "segundo": true,
	"conforme": true, "mediante": true, "salvo": true, "exceto": true,
	"menos": true, "fora": true,
}

var defaultNameSuggestions = []string{"João Silva", "Maria Santos", "Carlos Oliveira"}

// NameValidator validates personal names and normalizes their casing.
type NameValidator struct {
	MinWords int
	MinLen   int
	MaxLen   int
}

// NewNameValidator returns a name validator requiring at least minWords words.
func NewNameValidator(minWords int) *NameValidator {
	if minWords < 1 {
		minWords = 1
	}
	return &NameValidator{MinWords: minWords, MinLen: 2, MaxLen: 100}
}

// Validate implements Validator.
func (n *NameValidator) Validate(raw string) Outcome {
	name := clean(raw)
	if name == "" {
		return invalid(raw, nil, "Nome não informado")
	}
	length := utf8.RuneCountInString(name)
	if length < n.MinLen {
		return invalid(raw, n.Suggest(raw), fmt.Sprintf("Nome muito curto (mínimo %d caracteres)", n.MinLen))
	}
	if length > n.MaxLen {
		return invalid(raw, nil, fmt.Sprintf("Nome muito longo (máximo %d caracteres)", n.MaxLen))
	}
	if !nameCharset.MatchString(name) {
		return invalid(raw, []string{"Use apenas letras, espaços, acentos e hífens"}, "Nome contém caracteres inválidos")
	}

	words := strings.Fields(name)
	if len(words) < n.MinWords {
		return invalid(raw, n.Suggest(raw), "Informe nome e sobrenome")
	}

	var warnings []string
	confidence := 1.0
	for _, w := range words {
		if connectives[textnorm.Lower(w)] {
			continue
		}
		if utf8.RuneCountInString(strings.Trim(w, ".'-")) < 2 {
			warnings = append(warnings, fmt.Sprintf("Palavra muito curta no nome: %s", w))
			confidence = 0.8
		}
	}

	return valid(raw, normalizeNameCasing(words), confidence, warnings, map[string]interface{}{
		"word_count": len(words),
	})
}

// Normalize implements Validator.
func (n *NameValidator) Normalize(raw string) string {
	return n.Validate(raw).Normalized
}

// Suggest implements Validator. A single valid word gets common surnames
// appended; anything else falls back to example names.
func (n *NameValidator) Suggest(raw string) []string {
	name := clean(raw)
	words := strings.Fields(name)
	if len(words) == 1 && nameCharset.MatchString(name) {
		first := normalizeNameCasing(words)
		return []string{first + " Silva", first + " Santos", first + " Oliveira"}
	}
	return append([]string(nil), defaultNameSuggestions...)
}

func normalizeNameCasing(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		lw := textnorm.Lower(w)
		if i > 0 && i < len(words)-1 && connectives[lw] {
			out[i] = lw
			continue
		}
		out[i] = titleJoined(lw, "-")
	}
	return strings.Join(out, " ")
}

// titleJoined title-cases every part of w split on sep. Hyphen parts are
// further split on apostrophes, so "d'ávila" becomes "D'Ávila".
func titleJoined(w, sep string) string {
	parts := strings.Split(w, sep)
	for j, p := range parts {
		if sep == "-" {
			parts[j] = titleJoined(p, "'")
			continue
		}
		parts[j] = textnorm.Title(p)
	}
	return strings.Join(parts, sep)
}
