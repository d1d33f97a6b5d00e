package chat

import (
	"context"
	"fmt"
	"time"

	"medintake/internal/config"
	"medintake/internal/fields"
	"medintake/internal/perception"
	"medintake/internal/policy"
	"medintake/internal/reasoning"
	"medintake/internal/validation"
)

// Components is the per-configuration part of the pipeline. A config reload
// builds a fresh set and swaps it in atomically.
type Components struct {
	Orchestrator *validation.Orchestrator
	Reasoner     *reasoning.Reasoner
	Extractor    perception.Extractor
	Mode         validation.Mode
}

// BuildComponents assembles validators, the action policy, the reasoner and
// the extractor from cfg. clock may be nil for the wall clock.
func BuildComponents(ctx context.Context, cfg *config.Config, clock func() time.Time) (*Components, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if clock == nil {
		clock = time.Now
	}

	vopts := ValidationOptions(cfg)
	vopts.Clock = clock
	orch := validation.NewDefaultOrchestrator(nil, vopts)

	engine, err := policy.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to load action policy: %w", err)
	}

	ropts := reasoning.OptionsFromConfig(cfg)
	ropts.Clock = clock
	reasoner := reasoning.New(orch, engine, ropts)

	var dates *validation.DateValidator
	if v, ok := orch.Validator(fields.ConsultationDate); ok {
		dates, _ = v.(*validation.DateValidator)
	}
	extractor, err := perception.NewFromConfig(ctx, cfg, dates)
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor: %w", err)
	}

	return &Components{
		Orchestrator: orch,
		Reasoner:     reasoner,
		Extractor:    extractor,
		Mode:         ropts.Mode,
	}, nil
}

// ValidationOptions converts the validation section of cfg. Weights under
// unknown field names are ignored.
func ValidationOptions(cfg *config.Config) validation.Options {
	v := cfg.Validation
	opts := validation.DefaultOptions()
	opts.Location = cfg.GetLocation()
	opts.AllowPast = v.AllowPastDates
	if v.MaxFutureMonths > 0 {
		opts.MaxFutureMonths = v.MaxFutureMonths
	}
	if v.MinNameWords > 0 {
		opts.MinNameWords = v.MinNameWords
	}
	if v.BusinessHoursStart < v.BusinessHoursEnd {
		opts.BusinessStart = v.BusinessHoursStart
		opts.BusinessEnd = v.BusinessHoursEnd
	}
	if len(v.Weights) > 0 {
		opts.Weights = make(map[fields.CanonicalField]float64, len(v.Weights))
		for k, w := range v.Weights {
			if f := fields.CanonicalField(k); f.Valid() {
				opts.Weights[f] = w
			}
		}
	}
	return opts
}
