package validation

import (
	"fmt"
	"strings"

	"medintake/internal/textnorm"
)

// DocumentKind selects the Brazilian document a DocumentValidator checks.
type DocumentKind string

const (
	// CPF is the 11-digit individual taxpayer number.
	CPF DocumentKind = "cpf"
	// CEP is the 8-digit postal code.
	CEP DocumentKind = "cep"
)

// DocumentValidator validates CPF and CEP numbers.
type DocumentValidator struct {
	Kind DocumentKind
}

// NewCPFValidator returns a validator for CPF numbers.
func NewCPFValidator() *DocumentValidator { return &DocumentValidator{Kind: CPF} }

// NewCEPValidator returns a validator for CEP postal codes.
func NewCEPValidator() *DocumentValidator { return &DocumentValidator{Kind: CEP} }

// Validate implements Validator.
func (d *DocumentValidator) Validate(raw string) Outcome {
	switch d.Kind {
	case CPF:
		return d.validateCPF(raw)
	case CEP:
		return d.validateCEP(raw)
	default:
		return invalid(raw, nil, fmt.Sprintf("Tipo de documento não suportado: %s", d.Kind))
	}
}

// Normalize implements Validator.
func (d *DocumentValidator) Normalize(raw string) string {
	return d.Validate(raw).Normalized
}

// Suggest implements Validator. For CPF input with at least nine digits it
// proposes the number with recomputed check digits.
func (d *DocumentValidator) Suggest(raw string) []string {
	digits := textnorm.Digits(raw)
	switch d.Kind {
	case CPF:
		if len(digits) >= 9 && strings.Count(digits[:9], digits[:1]) != 9 {
			first, second := cpfCheckDigits(digits[:9])
			return []string{fmt.Sprintf("%s.%s.%s-%d%d", digits[:3], digits[3:6], digits[6:9], first, second)}
		}
		return []string{"123.456.789-09", "987.654.321-00"}
	case CEP:
		if len(digits) > 8 {
			return []string{digits[:5] + "-" + digits[5:8]}
		}
		return []string{"01310-100", "20040-020", "30130-010"}
	}
	return nil
}

func (d *DocumentValidator) validateCPF(raw string) Outcome {
	digits := textnorm.Digits(raw)
	if digits == "" {
		return invalid(raw, d.Suggest(raw), "CPF não informado")
	}
	if len(digits) != 11 {
		return invalid(raw, d.Suggest(raw),
			fmt.Sprintf("CPF deve ter 11 dígitos (recebido: %d)", len(digits)))
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return invalid(raw, d.Suggest(raw), "CPF inválido: todos os dígitos são iguais")
	}
	first, second := cpfCheckDigits(digits[:9])
	if int(digits[9]-'0') != first || int(digits[10]-'0') != second {
		return invalid(raw, d.Suggest(raw), "CPF inválido: dígitos verificadores não conferem")
	}

	formatted := fmt.Sprintf("%s.%s.%s-%s", digits[:3], digits[3:6], digits[6:9], digits[9:])
	return valid(raw, formatted, 1.0, nil, map[string]interface{}{
		"document_type": string(CPF),
		"digits_only":   digits,
	})
}

// cpfCheckDigits computes both verification digits for the first nine
// digits of a CPF using the mod-11 scheme.
func cpfCheckDigits(base string) (int, int) {
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(base[i]-'0') * (10 - i)
	}
	first := checkDigit(sum)

	sum = 0
	for i := 0; i < 9; i++ {
		sum += int(base[i]-'0') * (11 - i)
	}
	sum += first * 2
	return first, checkDigit(sum)
}

func checkDigit(sum int) int {
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

func (d *DocumentValidator) validateCEP(raw string) Outcome {
	digits := textnorm.Digits(raw)
	if digits == "" {
		return invalid(raw, d.Suggest(raw), "CEP não informado")
	}
	if len(digits) != 8 {
		return invalid(raw, d.Suggest(raw),
			fmt.Sprintf("CEP deve ter 8 dígitos (recebido: %d)", len(digits)))
	}
	var warnings []string
	confidence := 1.0
	switch {
	case digits == "00000000":
		warnings = append(warnings, "CEP com todos os dígitos zerados")
		confidence = 0.7
	case strings.Count(digits, digits[:1]) == len(digits):
		warnings = append(warnings, "CEP com todos os dígitos iguais")
		confidence = 0.8
	}
	formatted := digits[:5] + "-" + digits[5:]
	return valid(raw, formatted, confidence, warnings, map[string]interface{}{
		"document_type": string(CEP),
		"digits_only":   digits,
		"region_code":   digits[:2],
	})
}
