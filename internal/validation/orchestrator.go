package validation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"medintake/internal/fields"
	"medintake/internal/logging"
)

// Mode controls how the orchestrator reacts to missing or invalid fields.
type Mode string

const (
	// ModeStrict aborts on the first missing required field or invalid value
	// and returns an empty normalized record.
	ModeStrict Mode = "strict"
	// ModePermissive validates every field and collects all errors.
	ModePermissive Mode = "permissive"
	// ModeSuggestionsOnly never marks the record invalid.
	ModeSuggestionsOnly Mode = "suggestions_only"
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModePermissive, "":
		return ModePermissive, nil
	case ModeSuggestionsOnly:
		return ModeSuggestionsOnly, nil
	}
	return "", fmt.Errorf("unknown validation mode %q", s)
}

// Summary aggregates the outcomes of one record.
type Summary struct {
	Valid              bool                              `json:"valid"`
	PerField           map[fields.CanonicalField]Outcome `json:"per_field"`
	Confidence         float64                           `json:"confidence"`
	TotalErrors        int                               `json:"total_errors"`
	TotalWarnings      int                               `json:"total_warnings"`
	Normalized         fields.Record                     `json:"normalized"`
	Unmapped           map[string]string                 `json:"unmapped,omitempty"`
	MissingRequired    []fields.CanonicalField           `json:"missing_required,omitempty"`
	Errors             []string                          `json:"errors,omitempty"`
	GeneralSuggestions []string                          `json:"general_suggestions,omitempty"`
}

// FieldErrors returns the errors reported for f.
func (s Summary) FieldErrors(f fields.CanonicalField) []string {
	return s.PerField[f].Errors
}

// DefaultWeights is the relative importance of each field in the record
// confidence.
var DefaultWeights = map[fields.CanonicalField]float64{
	fields.Name:             1.0,
	fields.Phone:            1.2,
	fields.ConsultationDate: 1.1,
	fields.ConsultationTime: 0.7,
	fields.DocumentID:       1.0,
	fields.PostalCode:       0.7,
	fields.ConsultationType: 0.5,
	fields.Notes:            0.3,
}

type registration struct {
	validator Validator
	weight    float64
}

// Orchestrator maps raw records onto canonical fields and runs the
// registered validator for each one.
type Orchestrator struct {
	mu         sync.RWMutex
	mapper     *fields.Mapper
	validators map[fields.CanonicalField]registration
}

// NewOrchestrator returns an orchestrator with no validators registered.
func NewOrchestrator(mapper *fields.Mapper) *Orchestrator {
	if mapper == nil {
		mapper = fields.NewMapper(nil)
	}
	return &Orchestrator{
		mapper:     mapper,
		validators: make(map[fields.CanonicalField]registration),
	}
}

// Options configure the default validator set.
type Options struct {
	Clock           Clock
	Location        *time.Location
	AllowPast       bool
	MaxFutureMonths int
	MinNameWords    int
	BusinessStart   int
	BusinessEnd     int
	Weights         map[fields.CanonicalField]float64
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		Clock:           time.Now,
		Location:        time.Local,
		MaxFutureMonths: 6,
		MinNameWords:    2,
		BusinessStart:   7,
		BusinessEnd:     22,
	}
}

// NewDefaultOrchestrator registers one validator per canonical field.
func NewDefaultOrchestrator(mapper *fields.Mapper, opts Options) *Orchestrator {
	o := NewOrchestrator(mapper)
	date := NewDateValidator(opts.Location, opts.MaxFutureMonths, opts.AllowPast)
	if opts.Clock != nil {
		date.Clock = opts.Clock
	}
	weight := func(f fields.CanonicalField) float64 {
		if w, ok := opts.Weights[f]; ok {
			return w
		}
		return DefaultWeights[f]
	}
	o.Register(fields.Name, NewNameValidator(opts.MinNameWords), weight(fields.Name))
	o.Register(fields.Phone, NewPhoneValidator(), weight(fields.Phone))
	o.Register(fields.ConsultationDate, date, weight(fields.ConsultationDate))
	o.Register(fields.ConsultationTime, NewTimeOfDayValidator(opts.BusinessStart, opts.BusinessEnd), weight(fields.ConsultationTime))
	o.Register(fields.DocumentID, NewCPFValidator(), weight(fields.DocumentID))
	o.Register(fields.PostalCode, NewCEPValidator(), weight(fields.PostalCode))
	o.Register(fields.ConsultationType, NewConsultationTypeValidator(), weight(fields.ConsultationType))
	o.Register(fields.Notes, NewNotesValidator(), weight(fields.Notes))
	return o
}

// Register installs v for field f with the given confidence weight,
// replacing any earlier registration.
func (o *Orchestrator) Register(f fields.CanonicalField, v Validator, weight float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.validators[f] = registration{validator: v, weight: weight}
}

// Validator returns the validator registered for f.
func (o *Orchestrator) Validator(f fields.CanonicalField) (Validator, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.validators[f]
	return r.validator, ok
}

// Mapper returns the field mapper used by the orchestrator.
func (o *Orchestrator) Mapper() *fields.Mapper {
	return o.mapper
}

// ValidateField runs the validator for f on raw. Fields without a validator
// pass through unchanged.
func (o *Orchestrator) ValidateField(f fields.CanonicalField, raw string) Outcome {
	v, ok := o.Validator(f)
	if !ok {
		return valid(raw, clean(raw), 1.0, nil, nil)
	}
	return safeValidate(f, v, raw)
}

// Validate maps record onto canonical fields and validates each one. When
// required is nil the mapper's required fields are used.
func (o *Orchestrator) Validate(record map[string]string, mode Mode, required []fields.CanonicalField) Summary {
	timer := logging.StartTimer(logging.CategoryValidation, "Validate")
	defer timer.Stop()

	summary := Summary{
		PerField:   make(map[fields.CanonicalField]Outcome),
		Normalized: make(fields.Record),
	}
	if len(record) == 0 {
		summary.TotalErrors = 1
		summary.Errors = []string{"Dados vazios fornecidos"}
		summary.Valid = mode == ModeSuggestionsOnly
		return summary
	}

	mapped := o.mapper.MapRecord(record)
	if len(mapped.Unmapped) > 0 {
		summary.Unmapped = mapped.Unmapped
		logging.ValidationWarn("ignoring unmapped fields: %v", mapped.UnmappedKeys())
	}
	present := make(fields.Record, len(mapped.Fields))
	for f, v := range mapped.Fields {
		if strings.TrimSpace(v) != "" {
			present[f] = v
		}
	}

	if required == nil {
		required = o.mapper.RequiredFields()
	}
	if missing := fields.Missing(required, present); len(missing) > 0 {
		labels := make([]string, len(missing))
		for i, f := range missing {
			labels[i] = f.Label()
		}
		summary.MissingRequired = missing
		summary.TotalErrors += len(missing)
		summary.Errors = append(summary.Errors, "Campos obrigatórios ausentes: "+strings.Join(labels, ", "))
		summary.GeneralSuggestions = append(summary.GeneralSuggestions, "Informe: "+strings.Join(labels, ", "))
		if mode == ModeStrict {
			logging.ValidationDebug("strict abort: missing %v", missing)
			return summary
		}
	}

	o.mu.RLock()
	regs := make(map[fields.CanonicalField]registration, len(o.validators))
	for f, r := range o.validators {
		regs[f] = r
	}
	o.mu.RUnlock()

	var weighted, weightSum float64
	for _, f := range present.Ordered() {
		raw := present[f]
		reg, ok := regs[f]
		if !ok {
			summary.Normalized[f] = clean(raw)
			continue
		}
		out := safeValidate(f, reg.validator, raw)
		summary.PerField[f] = out
		summary.TotalWarnings += len(out.Warnings)

		if out.Valid {
			summary.Normalized[f] = out.Normalized
			weighted += out.Confidence * reg.weight
			weightSum += reg.weight
			continue
		}

		n := len(out.Errors)
		if n == 0 {
			n = 1
		}
		summary.TotalErrors += n
		for _, s := range out.Suggestions {
			summary.GeneralSuggestions = appendUnique(summary.GeneralSuggestions, fmt.Sprintf("%s: %s", f.Label(), s))
		}
		if mode == ModeStrict {
			logging.ValidationDebug("strict abort: %s invalid: %v", f, out.Errors)
			summary.Normalized = make(fields.Record)
			return summary
		}
	}

	if weightSum > 0 {
		summary.Confidence = weighted / weightSum
	}
	summary.Valid = summary.TotalErrors == 0 || mode == ModeSuggestionsOnly
	logging.ValidationDebug("validated %d fields: valid=%v confidence=%.2f errors=%d",
		len(summary.PerField), summary.Valid, summary.Confidence, summary.TotalErrors)
	return summary
}

// safeValidate converts a validator panic into a failed outcome.
func safeValidate(f fields.CanonicalField, v Validator, raw string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.ValidationError("validator for %s panicked: %v", f, r)
			out = invalid(raw, nil, fmt.Sprintf("Erro interno na validação de %s", f.Label()))
		}
	}()
	out = v.Validate(raw)
	if !out.Valid {
		out.Normalized = ""
	}
	return out
}
