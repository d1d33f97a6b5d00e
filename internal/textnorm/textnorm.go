// Package textnorm holds the small set of Portuguese text helpers shared by the
// validators, the extractor and the reasoner: accent folding, title-casing and
// digit stripping.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks, so "Amanhã" and "amanha"
// compare equal. Transformers are stateful, so one is built per call.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Title capitalizes the first letter of word and lowercases the rest using
// Brazilian Portuguese casing rules.
func Title(word string) string {
	return cases.Title(language.BrazilianPortuguese).String(word)
}

// Lower lowercases s using Brazilian Portuguese casing rules.
func Lower(s string) string {
	return cases.Lower(language.BrazilianPortuguese).String(s)
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CollapseSpaces trims s and reduces every whitespace run to a single space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordSet returns the set of folded words in s.
func WordSet(s string) map[string]struct{} {
	words := strings.Fields(Fold(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,;:!?\"'()")] = struct{}{}
	}
	delete(set, "")
	return set
}

// ContainsPhrase reports whether the folded text contains phrase as a whole
// word sequence.
func ContainsPhrase(text, phrase string) bool {
	t := " " + strings.Join(strings.FieldsFunc(Fold(text), isSeparator), " ") + " "
	p := " " + strings.Join(strings.FieldsFunc(Fold(phrase), isSeparator), " ") + " "
	return strings.Contains(t, p)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,;:!?\"()", r)
}
