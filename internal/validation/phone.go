package validation

import (
	"fmt"
	"strconv"

	"medintake/internal/textnorm"
)

const maxPhoneSuggestions = 5

var defaultPhoneSuggestions = []string{
	"(11) 99999-9999",
	"(11) 3333-3333",
	"(21) 99999-9999",
	"(21) 3333-3333",
	"(85) 99999-9999",
}

// PhoneValidator validates Brazilian landline and mobile numbers with a
// two-digit area code (DDD).
type PhoneValidator struct{}

// NewPhoneValidator returns a phone validator.
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate implements Validator.
func (p *PhoneValidator) Validate(raw string) Outcome {
	digits := textnorm.Digits(raw)
	if digits == "" {
		return invalid(raw, defaultPhoneSuggestions, "Telefone não informado")
	}
	if len(digits) != 10 && len(digits) != 11 {
		return invalid(raw, p.Suggest(raw),
			fmt.Sprintf("Telefone deve ter 10 ou 11 dígitos (recebido: %d)", len(digits)))
	}

	ddd, _ := strconv.Atoi(digits[:2])
	if ddd < 11 || ddd > 99 {
		return invalid(raw, p.Suggest(raw), fmt.Sprintf("DDD inválido: %s", digits[:2]))
	}

	mobile := len(digits) == 11
	var formatted string
	var warnings []string
	confidence := 1.0
	if mobile {
		formatted = fmt.Sprintf("(%s) %s-%s", digits[:2], digits[2:7], digits[7:])
		switch digits[2] {
		case '6', '7', '8', '9':
		default:
			warnings = append(warnings, "Número de celular com dígito inicial atípico")
			confidence = 0.9
		}
	} else {
		formatted = fmt.Sprintf("(%s) %s-%s", digits[:2], digits[2:6], digits[6:])
	}

	phoneType := "landline"
	if mobile {
		phoneType = "mobile"
	}
	return valid(raw, formatted, confidence, warnings, map[string]interface{}{
		"phone_type":  phoneType,
		"ddd":         digits[:2],
		"digits_only": digits,
		"is_mobile":   mobile,
	})
}

// Normalize implements Validator.
func (p *PhoneValidator) Normalize(raw string) string {
	return p.Validate(raw).Normalized
}

// Suggest implements Validator. It tries to salvage a number with extra
// leading digits or a bad area code before falling back to examples.
func (p *PhoneValidator) Suggest(raw string) []string {
	digits := textnorm.Digits(raw)
	var out []string

	tryDigits := func(d string) {
		if o := p.validDigits(d); o != "" {
			out = appendUnique(out, o)
		}
	}

	if len(digits) > 11 {
		tryDigits(digits[len(digits)-11:])
		tryDigits(digits[len(digits)-10:])
	}
	if len(digits) == 10 || len(digits) == 11 {
		for _, ddd := range []string{"11", "21", "31"} {
			tryDigits(ddd + digits[2:])
		}
	}
	for _, d := range defaultPhoneSuggestions {
		if len(out) >= maxPhoneSuggestions {
			break
		}
		out = appendUnique(out, d)
	}
	if len(out) > maxPhoneSuggestions {
		out = out[:maxPhoneSuggestions]
	}
	return out
}

func (p *PhoneValidator) validDigits(d string) string {
	if len(d) != 10 && len(d) != 11 {
		return ""
	}
	ddd, err := strconv.Atoi(d[:2])
	if err != nil || ddd < 11 || ddd > 99 {
		return ""
	}
	if len(d) == 11 {
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:7], d[7:])
	}
	return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:6], d[6:])
}
