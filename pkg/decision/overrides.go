package decision

import (
	"fmt"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/cel-go/cel"
)

// OverrideAction is what a matched rule does to the verdict.
type OverrideAction string

const (
	overrideNone     OverrideAction = ""
	overrideSuppress OverrideAction = "suppress"
	overrideForce    OverrideAction = "force"
)

// OverrideRule is an operator-supplied CEL expression over the decision
// inputs. Expressions see `impact_level`, `estimated_loss` (double),
// `confidence`, `trigger_type` and `urgency`, and must evaluate to bool.
type OverrideRule struct {
	Name       string
	Expression string
	Action     OverrideAction
}

type compiledOverride struct {
	rule OverrideRule
	prg  cel.Program
}

type overrideSet struct {
	rules []compiledOverride
}

// compileOverrides builds the CEL environment and compiles every rule up
// front. Fail-closed: a bad expression is rejected at wiring time.
func compileOverrides(rules []OverrideRule) (*overrideSet, error) {
	if len(rules) == 0 {
		return &overrideSet{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("impact_level", cel.StringType),
		cel.Variable("estimated_loss", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("trigger_type", cel.StringType),
		cel.Variable("urgency", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("decision: create CEL environment: %w", err)
	}

	set := &overrideSet{rules: make([]compiledOverride, 0, len(rules))}
	for _, r := range rules {
		if r.Action != overrideSuppress && r.Action != overrideForce {
			return nil, fmt.Errorf("decision: override %q has unknown action %q", r.Name, r.Action)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("decision: compile override %q: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("decision: override %q must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("decision: program override %q: %w", r.Name, err)
		}
		set.rules = append(set.rules, compiledOverride{rule: r, prg: prg})
	}
	return set, nil
}

// evaluate runs the rules in declared order; the first match wins.
func (s *overrideSet) evaluate(d *forensic.RollbackDecision) (OverrideAction, string, error) {
	if len(s.rules) == 0 {
		return overrideNone, "", nil
	}
	loss, _ := d.Assessment.EstimatedLoss.Float64()
	input := map[string]any{
		"impact_level":   string(d.Assessment.ImpactLevel),
		"estimated_loss": loss,
		"confidence":     d.Assessment.Confidence,
		"trigger_type":   string(d.Assessment.TriggerType),
		"urgency":        string(d.Urgency),
	}
	for _, c := range s.rules {
		out, _, err := c.prg.Eval(input)
		if err != nil {
			return overrideNone, "", fmt.Errorf("evaluate override %q: %w", c.rule.Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return overrideNone, "", fmt.Errorf("override %q returned non-bool %T", c.rule.Name, out.Value())
		}
		if matched {
			return c.rule.Action, c.rule.Name, nil
		}
	}
	return overrideNone, "", nil
}

// SuppressRule is a convenience constructor.
func SuppressRule(name, expression string) OverrideRule {
	return OverrideRule{Name: name, Expression: expression, Action: overrideSuppress}
}

// ForceRule is a convenience constructor.
func ForceRule(name, expression string) OverrideRule {
	return OverrideRule{Name: name, Expression: expression, Action: overrideForce}
}
