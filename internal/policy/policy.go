// Package policy decides the next intake action with a small Datalog program
// evaluated by Google Mangle. The Go side only states facts about the turn;
// which fields are missing and what to do next are derived by the rules in
// action_policy.mg.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"medintake/internal/fields"
	"medintake/internal/logging"
	"medintake/internal/session"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed action_policy.mg
var defaultRules string

// Facts is what the reasoner knows about the current turn.
type Facts struct {
	Required             []fields.CanonicalField
	Present              []fields.CanonicalField
	HasNewData           bool
	AwaitingConfirmation bool
	UserConfirmed        bool
	UserDenied           bool
}

// Verdict is the derived decision.
type Verdict struct {
	Action session.Action
	// Missing lists required fields without a value, in required order.
	Missing []fields.CanonicalField
}

// Policy maps turn facts to a verdict.
type Policy interface {
	Decide(ctx context.Context, f Facts) (Verdict, error)
}

// Engine evaluates the action rules with Mangle.
type Engine struct {
	rules string
}

// NewEngine returns an engine over the built-in rules. The rules are parsed
// and analyzed once here so a broken program fails at startup.
func NewEngine() (*Engine, error) {
	return NewEngineFromRules(defaultRules)
}

// NewEngineFromRules returns an engine over custom rules.
func NewEngineFromRules(rules string) (*Engine, error) {
	e := &Engine{rules: rules}
	if _, _, err := e.evaluate(Facts{}); err != nil {
		return nil, fmt.Errorf("failed to load action policy: %w", err)
	}
	return e, nil
}

// Rules returns the program text the engine evaluates.
func (e *Engine) Rules() string {
	return e.rules
}

// Decide evaluates the rules for f. Evaluation panics are returned as errors.
func (e *Engine) Decide(ctx context.Context, f Facts) (v Verdict, err error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			logging.PolicyError("policy evaluation panicked: %v", r)
			err = fmt.Errorf("policy evaluation panicked: %v", r)
		}
	}()

	timer := logging.StartTimer(logging.CategoryPolicy, "Decide")
	defer timer.Stop()

	store, info, err := e.evaluate(f)
	if err != nil {
		return Verdict{}, err
	}

	actions, err := queryNames(store, info, "next_action")
	if err != nil {
		return Verdict{}, err
	}
	if len(actions) != 1 {
		return Verdict{}, fmt.Errorf("policy derived %d actions %v, want exactly one", len(actions), actions)
	}

	missingNames, err := queryNames(store, info, "missing_field")
	if err != nil {
		return Verdict{}, err
	}
	missing := make([]fields.CanonicalField, 0, len(missingNames))
	for _, n := range missingNames {
		missing = append(missing, fields.CanonicalField(n))
	}
	rank := make(map[fields.CanonicalField]int, len(f.Required))
	for i, r := range f.Required {
		rank[r] = i
	}
	sort.SliceStable(missing, func(i, j int) bool { return rank[missing[i]] < rank[missing[j]] })

	v = Verdict{Action: session.Action(actions[0]), Missing: missing}
	logging.PolicyDebug("verdict: action=%s missing=%v", v.Action, v.Missing)
	return v, nil
}

func (e *Engine) evaluate(f Facts) (factstore.FactStore, *analysis.ProgramInfo, error) {
	var program strings.Builder
	program.WriteString(e.rules)
	program.WriteString("\n\n# turn facts\n")
	program.WriteString(factsProgram(f))

	unit, err := parse.Unit(strings.NewReader(program.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("parse error: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("analysis error: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, fact := range info.InitialFacts {
		store.Add(fact)
	}
	stats, err := engine.EvalProgramWithStats(info, store, engine.WithCreatedFactLimit(10000))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluation error: %w", err)
	}
	logging.PolicyDebug("evaluated %d strata", len(stats.Strata))
	return store, info, nil
}

func factsProgram(f Facts) string {
	var b strings.Builder
	b.WriteString("turn(/current).\n")
	for i, r := range f.Required {
		fmt.Fprintf(&b, "required_field(/%s, %d).\n", r, i)
	}
	for _, p := range f.Present {
		fmt.Fprintf(&b, "present_field(/%s).\n", p)
	}
	flag := func(pred string, on bool) {
		if on {
			fmt.Fprintf(&b, "%s(/current).\n", pred)
		}
	}
	flag("has_new_data", f.HasNewData)
	flag("awaiting_confirmation", f.AwaitingConfirmation)
	flag("user_confirmed", f.UserConfirmed)
	flag("user_denied", f.UserDenied)
	return b.String()
}

// queryNames returns the name arguments of every fact of the unary
// predicate, without their leading slash.
func queryNames(store factstore.FactStore, info *analysis.ProgramInfo, predicate string) ([]string, error) {
	var sym ast.PredicateSym
	found := false
	for pred := range info.Decls {
		if pred.Symbol == predicate && pred.Arity == 1 {
			sym, found = pred, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("predicate %q not found in policy", predicate)
	}

	var out []string
	err := store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
		c, ok := a.Args[0].(ast.Constant)
		if !ok || c.Type != ast.NameType {
			return fmt.Errorf("unexpected %s argument %v", predicate, a.Args[0])
		}
		out = append(out, strings.TrimPrefix(c.Symbol, "/"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s facts: %w", predicate, err)
	}
	sort.Strings(out)
	return out, nil
}

// Func adapts a plain function to Policy. Tests use it to inject failures.
type Func func(ctx context.Context, f Facts) (Verdict, error)

// Decide implements Policy.
func (fn Func) Decide(ctx context.Context, f Facts) (Verdict, error) {
	return fn(ctx, f)
}
