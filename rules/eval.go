package rules

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/snapshot"
)

// snapshotVar is the single CEL variable the snapshot's nested fields are
// bound to.
const snapshotVar = "entity"

// celOperators maps condition operators to CEL syntax.
var celOperators = map[alert.Operator]string{
	alert.OpLT:  "<",
	alert.OpLTE: "<=",
	alert.OpGT:  ">",
	alert.OpGTE: ">=",
	alert.OpEQ:  "==",
	alert.OpNEQ: "!=",
}

// CompiledRule holds one CEL program per condition, in rule order, so the
// evaluator can short-circuit and attribute resolution gaps to a specific
// condition.
type CompiledRule struct {
	RuleID     string
	conditions []compiledCondition
}

type compiledCondition struct {
	cond alert.Condition
	prog cel.Program
}

// Evaluator compiles rule conditions to CEL programs and evaluates them
// against entity snapshots. Thread-safe for concurrent compilation and
// evaluation (RWMutex over the program cache).
type Evaluator struct {
	env      *cel.Env
	programs map[string]*CompiledRule // ruleID -> compiled conditions
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator with a CEL environment exposing the
// snapshot as a dynamic variable.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(cel.Variable(snapshotVar, cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		programs: make(map[string]*CompiledRule),
	}, nil
}

// Compile lowers every condition of the rule to a CEL program and caches
// the result under the rule ID. Called by the registry on create/update;
// a compile failure is a validation failure.
func (ev *Evaluator) Compile(rule *alert.Rule) error {
	compiled := &CompiledRule{RuleID: rule.ID}
	for i, cond := range rule.Conditions {
		expr := lowerCondition(cond)
		ast, issues := ev.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s condition %d: compile error: %w", rule.ID, i, issues.Err())
		}
		// Cost limit prevents resource exhaustion from pathological inputs.
		prog, err := ev.env.Program(ast, cel.CostLimit(100000))
		if err != nil {
			return fmt.Errorf("rule %s condition %d: program creation error: %w", rule.ID, i, err)
		}
		compiled.conditions = append(compiled.conditions, compiledCondition{cond: cond, prog: prog})
	}

	ev.mu.Lock()
	ev.programs[rule.ID] = compiled
	ev.mu.Unlock()
	return nil
}

// Forget drops a rule's compiled programs.
func (ev *Evaluator) Forget(ruleID string) {
	ev.mu.Lock()
	delete(ev.programs, ruleID)
	ev.mu.Unlock()
}

// Evaluate runs the rule's conditions against the snapshot, AND-ed,
// short-circuit left-to-right. A rule with zero conditions never matches.
// Missing fields and unresolvable references evaluate to false, never
// error.
func (ev *Evaluator) Evaluate(rule *alert.Rule, snap *snapshot.Snapshot) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	ev.mu.RLock()
	compiled, ok := ev.programs[rule.ID]
	ev.mu.RUnlock()

	if !ok || len(compiled.conditions) != len(rule.Conditions) {
		// Rules loaded from the store at startup are compiled on first use.
		if err := ev.Compile(rule); err != nil {
			logger.Warn("rule failed to compile at evaluation time", "rule", rule.ID, "error", err)
			return false
		}
		ev.mu.RLock()
		compiled = ev.programs[rule.ID]
		ev.mu.RUnlock()
	}

	activation := map[string]any{snapshotVar: nestFields(snap.Fields)}

	for _, cc := range compiled.conditions {
		if _, ok := snap.Field(cc.cond.Field); !ok {
			logger.ResolutionGap(rule.ID, cc.cond.Field, snap.Entity.String())
			return false
		}
		if ref := cc.cond.Value.FieldRef; ref != "" {
			if _, ok := snap.Field(ref); !ok {
				logger.ResolutionGap(rule.ID, ref, snap.Entity.String())
				return false
			}
		}

		out, _, err := cc.prog.Eval(activation)
		if err != nil {
			// Type mismatches between snapshot data and the condition land
			// here; treated as non-match.
			logger.Debug("condition evaluation error", "rule", rule.ID,
				"field", cc.cond.Field, "error", err)
			return false
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			return false
		}
	}
	return true
}

// lowerCondition generates the CEL expression for one condition. Every
// selected path is guarded with has() so a sparse snapshot yields false
// rather than a missing-key error.
func lowerCondition(c alert.Condition) string {
	var parts []string
	parts = append(parts, pathGuards(c.Field)...)

	left := snapshotVar + "." + c.Field
	op := celOperators[c.Operator]

	var right string
	if c.Value.IsRef() {
		parts = append(parts, pathGuards(c.Value.FieldRef)...)
		right = snapshotVar + "." + c.Value.FieldRef
	} else {
		right = lowerLiteral(c.Value.Literal)
	}

	parts = append(parts, fmt.Sprintf("%s %s %s", left, op, right))
	return strings.Join(parts, " && ")
}

// pathGuards emits has() checks for every prefix of a dot-path.
func pathGuards(path string) []string {
	segments := strings.Split(path, ".")
	guards := make([]string, 0, len(segments))
	prefix := snapshotVar
	for _, seg := range segments {
		prefix = prefix + "." + seg
		guards = append(guards, "has("+prefix+")")
	}
	return guards
}

// lowerLiteral renders a Go literal as CEL source. Numbers always render
// as doubles because snapshot ingestion normalizes numerics to float64.
func lowerLiteral(v any) string {
	switch n := v.(type) {
	case string:
		return strconv.Quote(n)
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return formatDouble(n)
	case float32:
		return formatDouble(float64(n))
	case int:
		return formatDouble(float64(n))
	case int32:
		return formatDouble(float64(n))
	case int64:
		return formatDouble(float64(n))
	default:
		// Validation rejects anything else before it can reach here.
		return "null"
	}
}

func formatDouble(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// nestFields converts the snapshot's flat path map into the nested map
// structure CEL field selection expects.
func nestFields(fields map[string]any) map[string]any {
	root := make(map[string]any)
	for path, value := range fields {
		segments := strings.Split(path, ".")
		node := root
		for i, seg := range segments {
			if i == len(segments)-1 {
				node[seg] = value
				break
			}
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
	}
	return root
}
