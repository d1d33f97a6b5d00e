package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "amanha", Fold("Amanhã"))
	assert.Equal(t, "proxima terca-feira", Fold("Próxima Terça-feira"))
	assert.Equal(t, "joao", Fold("JOÃO"))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "João", Title("joÃo"))
	assert.Equal(t, "Silva", Title("SILVA"))
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "11999888777", Digits("(11) 99988-8777"))
	assert.Equal(t, "", Digits("abc"))
}

func TestWordSet(t *testing.T) {
	set := WordSet("Qual é o seu nome? Qual!")
	assert.Len(t, set, 5)
	assert.Contains(t, set, "qual")
	assert.Contains(t, set, "e")
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, ContainsPhrase("pode ser, está certo", "está certo"))
	assert.True(t, ContainsPhrase("Sim.", "sim"))
	assert.False(t, ContainsPhrase("simples", "sim"))
}
