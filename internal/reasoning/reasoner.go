// Package reasoning decides what the intake conversation does next. Each turn
// validates the freshly extracted fields, merges them into the session
// context, scores the turn and asks the action policy for the next step.
package reasoning

import (
	"context"
	"fmt"
	"time"

	"medintake/internal/config"
	"medintake/internal/fields"
	"medintake/internal/logging"
	"medintake/internal/perception"
	"medintake/internal/policy"
	"medintake/internal/session"
	"medintake/internal/validation"
)

// Decision is the outcome of one turn.
type Decision struct {
	Action         session.Action          `json:"action"`
	Response       string                  `json:"response"`
	Extracted      fields.Record           `json:"extracted_data"`
	Confidence     float64                 `json:"confidence"`
	Factors        Factors                 `json:"factors"`
	NextQuestions  []string                `json:"next_questions,omitempty"`
	Anticipated    []fields.CanonicalField `json:"anticipated_fields,omitempty"`
	Progression    session.Progression     `json:"progression"`
	Corrections    []Correction            `json:"corrections,omitempty"`
	Validation     *validation.Summary     `json:"validation,omitempty"`
	ChangeApproach bool                    `json:"change_approach"`
	Err            string                  `json:"error,omitempty"`
}

// Options tune the reasoner.
type Options struct {
	Weights             config.ConfidenceWeights
	RepetitionThreshold float64
	MaxRepetitions      int
	MaxConsecutiveAsks  int
	// StagnationWindow is how many trailing asks in history signal a stuck
	// conversation.
	StagnationWindow int
	HistoryLimit     int
	TurnBonusCap     int
	Mode             validation.Mode
	// Required fields gate confirmation, in the order they are asked.
	Required []fields.CanonicalField
	// Targets are the fields the completeness factor measures.
	Targets     []fields.CanonicalField
	Affirmative []string
	Negative    []string
	Clock       func() time.Time
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig builds options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	mode, err := validation.ParseMode(cfg.Validation.Mode)
	if err != nil {
		logging.ReasoningDebug("falling back to permissive mode: %v", err)
		mode = validation.ModePermissive
	}
	r := cfg.Reasoning
	return Options{
		Weights:             r.Confidence,
		RepetitionThreshold: r.RepetitionThreshold,
		MaxRepetitions:      r.MaxRepetitions,
		MaxConsecutiveAsks:  r.MaxConsecutiveAsks,
		StagnationWindow:    5,
		HistoryLimit:        r.HistoryLimit,
		TurnBonusCap:        r.TurnBonusCap,
		Mode:                mode,
		Targets: []fields.CanonicalField{
			fields.Name, fields.Phone, fields.ConsultationDate,
			fields.ConsultationTime, fields.ConsultationType,
		},
		Affirmative: r.Affirmative,
		Negative:    r.Negative,
		Clock:       time.Now,
	}
}

// Reasoner runs the per-turn decision. It holds no per-session state; the
// caller serializes turns of one session.
type Reasoner struct {
	orch     *validation.Orchestrator
	policy   policy.Policy
	composer *Composer
	lexicon  *Lexicon
	opts     Options
}

// New returns a reasoner. Required fields default to the mapper's.
func New(orch *validation.Orchestrator, pol policy.Policy, opts Options) *Reasoner {
	if len(opts.Required) == 0 {
		opts.Required = orch.Mapper().RequiredFields()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = session.DefaultHistoryLimit
	}
	if opts.RepetitionThreshold <= 0 {
		opts.RepetitionThreshold = 0.8
	}
	if opts.MaxRepetitions <= 0 {
		opts.MaxRepetitions = 2
	}
	if opts.MaxConsecutiveAsks <= 0 {
		opts.MaxConsecutiveAsks = 3
	}
	if opts.Mode == "" {
		opts.Mode = validation.ModePermissive
	}
	return &Reasoner{
		orch:     orch,
		policy:   pol,
		composer: NewComposer(),
		lexicon:  NewLexicon(opts.Affirmative, opts.Negative),
		opts:     opts,
	}
}

// Composer returns the reply composer.
func (r *Reasoner) Composer() *Composer {
	return r.composer
}

// Required returns the fields that gate confirmation.
func (r *Reasoner) Required() []fields.CanonicalField {
	return append([]fields.CanonicalField(nil), r.opts.Required...)
}

// ProcessTurn decides the next action for message and commits the result to
// sc. On ActionError sc is left as it was so the turn can be retried.
func (r *Reasoner) ProcessTurn(ctx context.Context, message string, sc *session.Context, ex perception.Result) Decision {
	timer := logging.StartTimer(logging.CategoryReasoning, "ProcessTurn")
	defer timer.Stop()

	next, d := r.Analyze(ctx, message, sc, ex)
	if next == nil {
		return d
	}
	*sc = *next
	logging.Reasoning("session %s: action=%s confidence=%.2f missing=%v", sc.ID, d.Action, d.Confidence, d.Anticipated)
	return d
}

// Analyze runs the turn against a copy of sc and returns the candidate
// context without committing it. The candidate is nil on ActionError.
func (r *Reasoner) Analyze(ctx context.Context, message string, sc *session.Context, ex perception.Result) (next *session.Context, d Decision) {
	defer func() {
		if p := recover(); p != nil {
			logging.ReasoningError("turn analysis panicked: %v", p)
			next, d = nil, r.errorDecision(sc, message, fmt.Errorf("erro interno: %v", p))
		}
	}()
	if sc == nil {
		return nil, r.errorDecision(nil, message, fmt.Errorf("contexto de sessão ausente"))
	}

	now := r.opts.Clock()
	next = sc.Clone()
	if next.Extracted == nil {
		next.Extracted = make(fields.Record)
	}

	// Validate and merge. New values win.
	var summary *validation.Summary
	incoming := make(fields.Record)
	if ex.Success && len(ex.Data) > 0 {
		s := r.orch.Validate(ex.Data, r.opts.Mode, []fields.CanonicalField{})
		summary = &s
		incoming = s.Normalized.Clone()
	} else if !ex.Success {
		logging.ReasoningDebug("extraction failed (%s), asking for the next field", ex.Err)
	}
	corrections := DetectCorrections(sc.Extracted, incoming)
	for f, v := range incoming {
		next.Extracted[f] = v
	}
	if len(incoming) > 0 {
		next.Confirmed = false
	}

	confirmed, denied := false, false
	if sc.AwaitingConfirmation {
		confirmed, denied = r.lexicon.Classify(message)
	}
	verdict, err := r.policy.Decide(ctx, policy.Facts{
		Required:             r.opts.Required,
		Present:              next.Extracted.Ordered(),
		HasNewData:           len(incoming) > 0,
		AwaitingConfirmation: sc.AwaitingConfirmation,
		UserConfirmed:        confirmed,
		UserDenied:           denied,
	})
	if err != nil {
		logging.ReasoningError("policy failed for session %s: %v", sc.ID, err)
		return nil, r.errorDecision(sc, message, err)
	}

	// Progression over history plus this turn's snapshot.
	pending := session.Turn{At: now, UserMessage: message, Snapshot: next.Extracted.Clone()}
	progression := DetectProgression(append(append([]session.Turn(nil), next.History...), pending), r.opts.Required)
	collected := len(r.opts.Required) - len(verdict.Missing)
	strategy := completionStrategy(progression, collected, verdict.Missing)

	factors := computeFactors(confidenceInput{
		record:           next.Extracted,
		targets:          r.opts.Targets,
		required:         r.opts.Required,
		validationErrors: validationErrors(summary),
		turns:            len(next.History) + 1,
		turnCap:          r.opts.TurnBonusCap,
		temporalResolved: r.temporalResolved(message, incoming),
	})
	confidence := factors.Score(r.opts.Weights)

	response := r.composer.compose(draft{
		action:      verdict.Action,
		missing:     verdict.Missing,
		incoming:    incoming,
		record:      next.Extracted,
		corrections: corrections,
		errors:      fieldErrors(summary),
		denied:      denied,
		strategy:    strategy,
	})

	// Counters.
	if next.LastResponse != "" && Jaccard(response, next.LastResponse) > r.opts.RepetitionThreshold {
		next.RepetitionCount++
		logging.ReasoningDebug("repetition detected for session %s: count=%d", next.ID, next.RepetitionCount)
	} else {
		next.RepetitionCount = 0
	}
	if verdict.Action == session.ActionAsk {
		next.ConsecutiveAsks++
	} else {
		next.ConsecutiveAsks = 0
	}

	changeApproach := r.shouldChangeApproach(next, verdict.Action)
	if changeApproach && verdict.Action == session.ActionAsk {
		response = r.composer.alternative(next, verdict.Missing, next.RepetitionCount, r.opts.MaxRepetitions)
	}

	pending.Action = verdict.Action
	pending.Response = response
	pending.Confidence = confidence
	next.AppendTurn(pending, r.opts.HistoryLimit)
	next.RecordConfidence(confidence)
	next.LastAction = verdict.Action
	next.LastResponse = response
	next.Progression = progression
	next.CompletionStrategy = strategy
	next.AwaitingConfirmation = verdict.Action == session.ActionConfirm
	if verdict.Action == session.ActionComplete {
		next.Confirmed = true
	}
	next.UpdatedAt = now

	return next, Decision{
		Action:         verdict.Action,
		Response:       response,
		Extracted:      next.Extracted.Clone(),
		Confidence:     confidence,
		Factors:        factors,
		NextQuestions:  r.composer.Questions(verdict.Missing),
		Anticipated:    verdict.Missing,
		Progression:    progression,
		Corrections:    corrections,
		Validation:     summary,
		ChangeApproach: changeApproach,
	}
}

// shouldChangeApproach reports whether the conversation looks stuck. The
// pending action counts as the newest history entry.
func (r *Reasoner) shouldChangeApproach(sc *session.Context, pending session.Action) bool {
	if sc.RepetitionCount >= r.opts.MaxRepetitions {
		return true
	}
	if sc.ConsecutiveAsks >= r.opts.MaxConsecutiveAsks {
		return true
	}
	w := r.opts.StagnationWindow
	if w <= 0 || len(sc.History)+1 < w {
		return false
	}
	recent := append(sc.LastActions(w-1), pending)
	for _, a := range recent {
		if a != session.ActionAsk {
			return false
		}
	}
	return true
}

// temporalResolved reports whether the message mentions a date or time and
// that expression produced a stored value this turn.
func (r *Reasoner) temporalResolved(message string, incoming fields.Record) bool {
	if !incoming.Present(fields.ConsultationDate) && !incoming.Present(fields.ConsultationTime) {
		return false
	}
	if validation.MentionsTime(message) {
		return true
	}
	if v, ok := r.orch.Validator(fields.ConsultationDate); ok {
		if dm, ok := v.(interface{ MentionsDate(string) bool }); ok {
			return dm.MentionsDate(message)
		}
	}
	return false
}

func (r *Reasoner) errorDecision(sc *session.Context, message string, err error) Decision {
	d := Decision{
		Action:      session.ActionError,
		Response:    r.composer.Error(err.Error()),
		Err:         err.Error(),
		Progression: session.ProgressionUndetermined,
	}
	if sc != nil {
		d.Extracted = sc.Extracted.Clone()
		d.Progression = sc.Progression
	}
	logging.ReasoningDebug("error decision for message %q: %v", message, err)
	return d
}

func validationErrors(s *validation.Summary) int {
	if s == nil {
		return 0
	}
	return s.TotalErrors
}

// fieldErrors lists per-field validation errors in canonical order.
func fieldErrors(s *validation.Summary) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, f := range fields.All {
		if o, ok := s.PerField[f]; ok && !o.Valid {
			out = append(out, o.Errors...)
		}
	}
	return out
}
