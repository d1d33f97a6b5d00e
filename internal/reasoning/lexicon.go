package reasoning

import (
	"medintake/internal/config"
	"medintake/internal/textnorm"
)

// Lexicon classifies a reply to a confirmation summary by plain word
// matching. Matching is accent-insensitive and works on whole words.
type Lexicon struct {
	affirmative []string
	negative    []string
}

// NewLexicon returns a lexicon over the given word lists. Empty lists fall
// back to the shipped defaults.
func NewLexicon(affirmative, negative []string) *Lexicon {
	if len(affirmative) == 0 {
		affirmative = config.DefaultAffirmative
	}
	if len(negative) == 0 {
		negative = config.DefaultNegative
	}
	return &Lexicon{affirmative: affirmative, negative: negative}
}

// Classify reports whether message confirms or denies. A message matching
// both lists is a denial.
func (l *Lexicon) Classify(message string) (confirmed, denied bool) {
	denied = matchesAny(message, l.negative)
	if denied {
		return false, true
	}
	return matchesAny(message, l.affirmative), false
}

func matchesAny(message string, words []string) bool {
	for _, w := range words {
		if textnorm.ContainsPhrase(message, w) {
			return true
		}
	}
	return false
}
