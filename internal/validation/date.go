package validation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"medintake/internal/textnorm"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// DateKind records which rule resolved a temporal expression.
type DateKind string

const (
	DateWeekday  DateKind = "weekday"
	DateRelative DateKind = "relative"
	DateAbsolute DateKind = "absolute"
	DateNumeric  DateKind = "numeric"
)

var weekdays = map[string]time.Weekday{
	"domingo":       time.Sunday,
	"segunda":       time.Monday,
	"segunda-feira": time.Monday,
	"terca":         time.Tuesday,
	"terca-feira":   time.Tuesday,
	"quarta":        time.Wednesday,
	"quarta-feira":  time.Wednesday,
	"quinta":        time.Thursday,
	"quinta-feira":  time.Thursday,
	"sexta":         time.Friday,
	"sexta-feira":   time.Friday,
	"sabado":        time.Saturday,
}

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

const weekdayAlt = `(segunda(?:-feira)?|terca(?:-feira)?|quarta(?:-feira)?|quinta(?:-feira)?|sexta(?:-feira)?|sabado|domingo)`

var (
	reNextWeekday     = regexp.MustCompile(`\bprox(?:im[oa])\s+` + weekdayAlt + `\b`)
	reWeekdayQueVem   = regexp.MustCompile(`\b` + weekdayAlt + `\s+que\s+vem\b`)
	reWeekdayProxima  = regexp.MustCompile(`\b` + weekdayAlt + `\s+proxim[oa]\b`)
	reWeekdayAlone    = regexp.MustCompile(`\b` + weekdayAlt + `\b`)
	reDateSlash       = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	reDateISO         = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	reDateDash        = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`)
	reDateDot         = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	reDayMonth        = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	reNumericForward  = regexp.MustCompile(`\b(?:em|daqui a)\s+(\d+)\s+(dias?|semanas?|mes|meses)\b`)
	reNumericBackward = regexp.MustCompile(`\b(\d+)\s+(dias?|semanas?|mes|meses)\s+atras\b`)
	reNumericAfter    = regexp.MustCompile(`\b(\d+)\s+(dias?|semanas?|mes|meses)\s+depois\b`)
)

type relativeExpr struct {
	phrase string
	days   int
}

// relativeTable is sorted longest phrase first so "depois de amanha" wins
// over "amanha".
var relativeTable = func() []relativeExpr {
	t := []relativeExpr{
		{"hoje", 0},
		{"amanha", 1},
		{"depois de amanha", 2},
		{"ontem", -1},
		{"anteontem", -2},
		{"proximo dia", 1},
		{"dia seguinte", 1},
		{"semana que vem", 7},
		{"proxima semana", 7},
		{"semana passada", -7},
		{"mes que vem", 30},
		{"proximo mes", 30},
		{"mes passado", -30},
		{"ano que vem", 365},
		{"proximo ano", 365},
		{"ano passado", -365},
		{"proximos dias", 3},
		{"proximas semanas", 14},
	}
	sort.SliceStable(t, func(i, j int) bool { return len(t[i].phrase) > len(t[j].phrase) })
	return t
}()

// ResolvedDate is a parsed temporal expression.
type ResolvedDate struct {
	Date       time.Time
	Kind       DateKind
	Expression string
}

// DateValidator resolves Portuguese date expressions to ISO dates relative to
// an injectable clock.
type DateValidator struct {
	Clock           Clock
	Location        *time.Location
	AllowPast       bool
	MaxFutureMonths int
}

// NewDateValidator returns a date validator using the wall clock.
func NewDateValidator(loc *time.Location, maxFutureMonths int, allowPast bool) *DateValidator {
	if loc == nil {
		loc = time.Local
	}
	return &DateValidator{
		Clock:           time.Now,
		Location:        loc,
		AllowPast:       allowPast,
		MaxFutureMonths: maxFutureMonths,
	}
}

func (d *DateValidator) today() time.Time {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	now := clock().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// Parse resolves text without applying business rules. The boolean is false
// when no expression was recognized. An error is returned for expressions
// that look like dates but name an impossible day.
func (d *DateValidator) Parse(text string) (ResolvedDate, bool, error) {
	folded := textnorm.Fold(strings.TrimSpace(text))
	if folded == "" {
		return ResolvedDate{}, false, nil
	}
	today := d.today()

	if r, ok := resolveWeekday(folded, today); ok {
		return r, true, nil
	}
	for _, e := range relativeTable {
		if textnorm.ContainsPhrase(folded, e.phrase) {
			return ResolvedDate{Date: today.AddDate(0, 0, e.days), Kind: DateRelative, Expression: e.phrase}, true, nil
		}
	}
	if r, ok, err := resolveAbsolute(folded, today); ok || err != nil {
		return r, ok, err
	}
	if r, ok := resolveNumeric(folded, today); ok {
		return r, true, nil
	}
	return ResolvedDate{}, false, nil
}

func resolveWeekday(folded string, today time.Time) (ResolvedDate, bool) {
	for _, re := range []*regexp.Regexp{reNextWeekday, reWeekdayQueVem, reWeekdayProxima} {
		if m := re.FindStringSubmatch(folded); m != nil {
			return ResolvedDate{Date: nextWeekday(today, weekdays[m[1]], false), Kind: DateWeekday, Expression: m[0]}, true
		}
	}
	if m := reWeekdayAlone.FindStringSubmatch(folded); m != nil {
		return ResolvedDate{Date: nextWeekday(today, weekdays[m[1]], true), Kind: DateWeekday, Expression: m[0]}, true
	}
	return ResolvedDate{}, false
}

func nextWeekday(today time.Time, target time.Weekday, includeToday bool) time.Time {
	diff := (int(target) - int(today.Weekday()) + 7) % 7
	if diff == 0 && !includeToday {
		diff = 7
	}
	return today.AddDate(0, 0, diff)
}

func resolveAbsolute(folded string, today time.Time) (ResolvedDate, bool, error) {
	type layout struct {
		re               *regexp.Regexp
		day, month, year int
	}
	layouts := []layout{
		{reDateSlash, 1, 2, 3},
		{reDateISO, 3, 2, 1},
		{reDateDash, 1, 2, 3},
		{reDateDot, 1, 2, 3},
	}
	for _, l := range layouts {
		m := l.re.FindStringSubmatch(folded)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[l.day])
		month, _ := strconv.Atoi(m[l.month])
		year, _ := strconv.Atoi(m[l.year])
		t, err := buildDate(year, month, day, today.Location())
		if err != nil {
			return ResolvedDate{}, false, err
		}
		return ResolvedDate{Date: t, Kind: DateAbsolute, Expression: m[0]}, true, nil
	}

	if m := reDayMonth.FindStringSubmatch(folded); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		t, err := buildDate(today.Year(), month, day, today.Location())
		if err != nil {
			return ResolvedDate{}, false, err
		}
		if t.Before(today) {
			if t, err = buildDate(today.Year()+1, month, day, today.Location()); err != nil {
				return ResolvedDate{}, false, err
			}
		}
		return ResolvedDate{Date: t, Kind: DateAbsolute, Expression: m[0]}, true, nil
	}
	return ResolvedDate{}, false, nil
}

func buildDate(year, month, day int, loc *time.Location) (time.Time, error) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("data inválida: %02d/%02d/%04d", day, month, year)
	}
	return t, nil
}

func resolveNumeric(folded string, today time.Time) (ResolvedDate, bool) {
	patterns := []struct {
		re   *regexp.Regexp
		sign int
	}{
		{reNumericForward, 1},
		{reNumericBackward, -1},
		{reNumericAfter, 1},
	}
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(folded)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return ResolvedDate{Date: today.AddDate(0, 0, p.sign*n*unitDays(m[2])), Kind: DateNumeric, Expression: m[0]}, true
	}
	return ResolvedDate{}, false
}

func unitDays(unit string) int {
	switch {
	case strings.HasPrefix(unit, "semana"):
		return 7
	case strings.HasPrefix(unit, "mes"):
		return 30
	default:
		return 1
	}
}

// Validate implements Validator.
func (d *DateValidator) Validate(raw string) Outcome {
	if strings.TrimSpace(raw) == "" {
		return invalid(raw, d.Suggest(raw), "Data não informada")
	}
	r, ok, err := d.Parse(raw)
	if err != nil {
		return invalid(raw, d.Suggest(raw), fmt.Sprintf("Data inválida: %s", strings.TrimSpace(raw)))
	}
	if !ok {
		return invalid(raw, d.Suggest(raw), fmt.Sprintf("Não foi possível interpretar a data: %s", strings.TrimSpace(raw)))
	}

	today := d.today()
	confidence := 1.0
	if r.Kind == DateNumeric {
		confidence = 0.9
	}
	var warnings []string
	if r.Date.Before(today) {
		if !d.AllowPast {
			return invalid(raw, d.Suggest(raw), "Data no passado não é permitida")
		}
		warnings = append(warnings, "Data no passado")
		confidence = 0.8
	}
	if d.MaxFutureMonths > 0 {
		limit := today.AddDate(0, 0, d.MaxFutureMonths*30)
		if r.Date.After(limit) {
			return invalid(raw, d.Suggest(raw),
				fmt.Sprintf("Data muito distante (máximo %d meses)", d.MaxFutureMonths))
		}
	}

	return valid(raw, r.Date.Format("2006-01-02"), confidence, warnings, map[string]interface{}{
		"kind":            string(r.Kind),
		"expression":      r.Expression,
		"weekday":         weekdayNames[r.Date.Weekday()],
		"days_from_today": int(math.Round(r.Date.Sub(today).Hours() / 24)),
	})
}

// Normalize implements Validator.
func (d *DateValidator) Normalize(raw string) string {
	return d.Validate(raw).Normalized
}

// Suggest implements Validator.
func (d *DateValidator) Suggest(string) []string {
	today := d.today()
	out := []string{"amanhã", "próxima segunda", "semana que vem"}
	for i := 1; i <= 3; i++ {
		out = append(out, today.AddDate(0, 0, i).Format("02/01/2006"))
	}
	return out
}

// MentionsDate reports whether text contains any date expression the parser
// understands.
func (d *DateValidator) MentionsDate(text string) bool {
	_, ok, err := d.Parse(text)
	return ok || err != nil
}

var reDateLike = regexp.MustCompile(`\b\d{1,4}[/.\-]\d{1,2}(?:[/.\-]\d{2,4})?\b`)

// FindDateExpression returns the date expression in text, in folded form.
// Expressions that look like dates but do not resolve are still returned so
// validation can report them.
func (d *DateValidator) FindDateExpression(text string) (string, bool) {
	r, ok, err := d.Parse(text)
	if ok {
		return r.Expression, true
	}
	if err != nil {
		if m := reDateLike.FindString(textnorm.Fold(text)); m != "" {
			return m, true
		}
	}
	return "", false
}
