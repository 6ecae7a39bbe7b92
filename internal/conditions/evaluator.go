// Package conditions implements the pure condition evaluator: resolve the
// source value, resolve the comparison value, apply the operator.
package conditions

import (
	"regexp"

	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/value"
)

// BaselineProvider answers baseline conditions: whether the named metric
// currently deviates from its learned baseline in the given direction
// ("above", "below", "outside") at the given sensitivity.
type BaselineProvider interface {
	Evaluate(metric, comparison string, sensitivity float64) (bool, error)
}

// Evaluator evaluates conditions against a Context. The zero value works;
// Baseline is optional.
type Evaluator struct {
	Baseline BaselineProvider
}

// Outcome carries the boolean result plus trace detail for failures that
// are policy (condition_error, baseline_unavailable) rather than plain
// mismatches.
type Outcome struct {
	Pass   bool
	Detail map[string]any
}

// Evaluate applies one condition. It never errors: malformed runtime
// input fails the condition and reports why in the outcome detail.
func (ev *Evaluator) Evaluate(cond rule.Condition, ctx *Context) Outcome {
	sourceVal, sourceOK, detail := ev.resolveSource(cond.Source, ctx)
	if detail != nil {
		return Outcome{Pass: false, Detail: detail}
	}

	switch cond.Operator {
	case rule.OpExists:
		return Outcome{Pass: sourceOK}
	case rule.OpNotExists:
		return Outcome{Pass: !sourceOK}
	}

	cmpVal, cmpOK := resolveValue(cond.Value, ctx)

	switch cond.Operator {
	case rule.OpEq:
		// eq matches absent-vs-null: both missing counts as equal.
		if !sourceOK {
			return Outcome{Pass: !cmpOK || cmpVal == nil}
		}
		return Outcome{Pass: value.Equal(sourceVal, cmpVal)}
	case rule.OpNeq:
		if !sourceOK {
			return Outcome{Pass: cmpOK && cmpVal != nil}
		}
		return Outcome{Pass: !value.Equal(sourceVal, cmpVal)}
	case rule.OpGt, rule.OpGte, rule.OpLt, rule.OpLte:
		return Outcome{Pass: compareNumeric(cond.Operator, sourceVal, cmpVal)}
	case rule.OpIn:
		return Outcome{Pass: membership(sourceVal, cmpVal)}
	case rule.OpNotIn:
		if _, isSeq := cmpVal.([]any); !isSeq {
			return Outcome{Pass: false}
		}
		return Outcome{Pass: !membership(sourceVal, cmpVal)}
	case rule.OpContains:
		return Outcome{Pass: value.Contains(sourceVal, cmpVal)}
	case rule.OpNotContains:
		return Outcome{Pass: !value.Contains(sourceVal, cmpVal)}
	case rule.OpMatches:
		return matchRegex(sourceVal, cmpVal)
	default:
		return Outcome{Pass: false, Detail: map[string]any{
			"condition_error": "unknown operator " + string(cond.Operator),
		}}
	}
}

// EvaluateAll applies conditions in order with AND semantics,
// short-circuiting on the first failure. The returned outcomes hold one
// entry per evaluated condition (so a short-circuit yields fewer outcomes
// than conditions).
func (ev *Evaluator) EvaluateAll(conds []rule.Condition, ctx *Context) (bool, []Outcome) {
	outcomes := make([]Outcome, 0, len(conds))
	for _, cond := range conds {
		o := ev.Evaluate(cond, ctx)
		outcomes = append(outcomes, o)
		if !o.Pass {
			return false, outcomes
		}
	}
	return true, outcomes
}

func (ev *Evaluator) resolveSource(src rule.Source, ctx *Context) (val any, ok bool, detail map[string]any) {
	switch src.Type {
	case rule.SourceEvent:
		v, ok := ctx.Lookup("event." + src.Field)
		return v, ok, nil
	case rule.SourceFact:
		if ctx.FactLookup == nil {
			return nil, false, nil
		}
		v, ok := ctx.FactLookup(src.Pattern)
		return v, ok, nil
	case rule.SourceContext:
		v, ok := ctx.Lookup("context." + src.Key)
		return v, ok, nil
	case rule.SourceBaseline:
		if ev.Baseline == nil {
			return nil, false, map[string]any{"baseline_unavailable": src.Metric}
		}
		pass, err := ev.Baseline.Evaluate(src.Metric, src.Comparison, src.Sensitivity)
		if err != nil {
			return nil, false, map[string]any{
				"condition_error": err.Error(),
				"metric":          src.Metric,
			}
		}
		return pass, true, nil
	default:
		return nil, false, map[string]any{
			"condition_error": "unknown source type " + string(src.Type),
		}
	}
}

// resolveValue resolves the right-hand side: literal, or reference into
// the context. A missing reference path resolves to absent.
func resolveValue(v *rule.Value, ctx *Context) (any, bool) {
	if v == nil {
		return nil, false
	}
	if v.IsRef {
		return ctx.Lookup(v.Ref)
	}
	return v.Literal, true
}

// compareNumeric coerces both sides to float64. Type mismatch is false,
// not an error.
func compareNumeric(op rule.Operator, a, b any) bool {
	fa, aok := value.ToFloat(a)
	fb, bok := value.ToFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case rule.OpGt:
		return fa > fb
	case rule.OpGte:
		return fa >= fb
	case rule.OpLt:
		return fa < fb
	case rule.OpLte:
		return fa <= fb
	default:
		return false
	}
}

// membership requires the right-hand side to be a sequence.
func membership(item, seq any) bool {
	elems, ok := seq.([]any)
	if !ok {
		return false
	}
	for _, elem := range elems {
		if value.Equal(item, elem) {
			return true
		}
	}
	return false
}

// matchRegex interprets the value as a regular expression. An invalid
// regex fails the condition and reports condition_error.
func matchRegex(sourceVal, pattern any) Outcome {
	patternStr, ok := pattern.(string)
	if !ok {
		return Outcome{Pass: false, Detail: map[string]any{
			"condition_error": "matches requires a string pattern",
		}}
	}
	re, err := regexp.Compile(patternStr)
	if err != nil {
		return Outcome{Pass: false, Detail: map[string]any{
			"condition_error": "invalid regex: " + err.Error(),
		}}
	}
	subject, ok := sourceVal.(string)
	if !ok {
		subject = value.ToString(sourceVal)
	}
	return Outcome{Pass: re.MatchString(subject)}
}
