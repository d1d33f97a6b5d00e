package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"medintake/internal/textnorm"
)

var (
	reClock        = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reHourMinute   = regexp.MustCompile(`\b(\d{1,2})h(\d{2})\b`)
	reHourPeriod   = regexp.MustCompile(`\b(\d{1,2})\s*(?:h|horas?)?\s*da\s+(manha|tarde|noite)\b`)
	reHourSuffix   = regexp.MustCompile(`\b(\d{1,2})\s*(?:h|horas?)\b`)
	reBareHour     = regexp.MustCompile(`^(\d{1,2})$`)
	reNamedNoon    = regexp.MustCompile(`\bmeio[- ]dia\b`)
	reNamedMidnite = regexp.MustCompile(`\bmeia[- ]noite\b`)
)

var defaultTimeSuggestions = []string{"08:00", "09:00", "10:00", "14:00", "15:00", "16:00"}

type dayPeriod struct {
	name  string
	start int
	slots []string
}

var dayPeriods = []dayPeriod{
	{"manha", 8, []string{"08:00", "08:30", "09:00", "09:30", "10:00", "10:30", "11:00"}},
	{"tarde", 13, []string{"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00"}},
	{"noite", 18, []string{"18:00", "18:30", "19:00", "19:30", "20:00", "20:30", "21:00"}},
}

// TimeOfDayValidator parses times of day ("14h", "14:30", "meio-dia", "à
// tarde") and enforces business hours.
type TimeOfDayValidator struct {
	BusinessStart int
	BusinessEnd   int
}

// NewTimeOfDayValidator returns a validator accepting times between start
// and end o'clock, both inclusive.
func NewTimeOfDayValidator(start, end int) *TimeOfDayValidator {
	return &TimeOfDayValidator{BusinessStart: start, BusinessEnd: end}
}

type parsedTime struct {
	hour, minute int
	period       string
	named        string
}

func parseTimeOfDay(text string) (parsedTime, bool) {
	folded := textnorm.Fold(strings.TrimSpace(text))
	if folded == "" {
		return parsedTime{}, false
	}
	if reNamedNoon.MatchString(folded) {
		return parsedTime{hour: 12, named: "meio-dia"}, true
	}
	if reNamedMidnite.MatchString(folded) {
		return parsedTime{hour: 0, named: "meia-noite"}, true
	}
	if m := reClock.FindStringSubmatch(folded); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return parsedTime{hour: h, minute: min}, true
	}
	if m := reHourMinute.FindStringSubmatch(folded); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return parsedTime{hour: h, minute: min}, true
	}
	if m := reHourPeriod.FindStringSubmatch(folded); m != nil {
		h, _ := strconv.Atoi(m[1])
		if (m[2] == "tarde" || m[2] == "noite") && h < 12 {
			h += 12
		}
		return parsedTime{hour: h, period: m[2]}, true
	}
	if m := reHourSuffix.FindStringSubmatch(folded); m != nil {
		h, _ := strconv.Atoi(m[1])
		return parsedTime{hour: h}, true
	}
	if m := reBareHour.FindStringSubmatch(folded); m != nil {
		h, _ := strconv.Atoi(m[1])
		return parsedTime{hour: h}, true
	}
	for _, p := range dayPeriods {
		if textnorm.ContainsPhrase(folded, p.name) {
			return parsedTime{hour: p.start, period: p.name}, true
		}
	}
	return parsedTime{}, false
}

// Validate implements Validator.
func (v *TimeOfDayValidator) Validate(raw string) Outcome {
	if strings.TrimSpace(raw) == "" {
		return invalid(raw, defaultTimeSuggestions, "Horário não informado")
	}
	p, ok := parseTimeOfDay(raw)
	if !ok {
		return invalid(raw, v.Suggest(raw), "Formato de horário não reconhecido")
	}
	if p.hour < 0 || p.hour > 23 {
		return invalid(raw, v.Suggest(raw), "Hora deve estar entre 0 e 23")
	}
	if p.minute < 0 || p.minute > 59 {
		return invalid(raw, v.Suggest(raw), "Minuto deve estar entre 0 e 59")
	}

	total := p.hour*60 + p.minute
	if total < v.BusinessStart*60 || total > v.BusinessEnd*60 {
		return invalid(raw, append(periodSlots("manha"), periodSlots("tarde")...),
			fmt.Sprintf("Horário fora do horário comercial (%dh-%dh)", v.BusinessStart, v.BusinessEnd))
	}

	confidence := 1.0
	meta := map[string]interface{}{"hour": p.hour, "minute": p.minute}
	if p.period != "" && !reHourPeriod.MatchString(textnorm.Fold(raw)) {
		confidence = 0.8
	}
	if p.period != "" {
		meta["period"] = p.period
	}
	if p.named != "" {
		meta["named"] = p.named
	}
	return valid(raw, fmt.Sprintf("%02d:%02d", p.hour, p.minute), confidence, nil, meta)
}

// Normalize implements Validator.
func (v *TimeOfDayValidator) Normalize(raw string) string {
	return v.Validate(raw).Normalized
}

// Suggest implements Validator. It offers the slots of the period mentioned
// in raw, or a default spread across the day.
func (v *TimeOfDayValidator) Suggest(raw string) []string {
	folded := textnorm.Fold(raw)
	for _, p := range dayPeriods {
		if textnorm.ContainsPhrase(folded, p.name) {
			return periodSlots(p.name)
		}
	}
	return append([]string(nil), defaultTimeSuggestions...)
}

func periodSlots(name string) []string {
	for _, p := range dayPeriods {
		if p.name == name {
			return append([]string(nil), p.slots...)
		}
	}
	return nil
}

// MentionsTime reports whether text contains a time of day.
func MentionsTime(text string) bool {
	_, ok := parseTimeOfDay(text)
	return ok
}

// FindTimeExpression returns the first time-of-day expression in text, in
// folded form, so an extractor can hand just that span to the validator.
func FindTimeExpression(text string) (string, bool) {
	folded := textnorm.Fold(text)
	for _, re := range []*regexp.Regexp{reNamedNoon, reNamedMidnite, reClock, reHourMinute, reHourPeriod, reHourSuffix} {
		if m := re.FindString(folded); m != "" {
			return m, true
		}
	}
	for _, p := range dayPeriods {
		if textnorm.ContainsPhrase(folded, p.name) {
			return p.name, true
		}
	}
	return "", false
}
