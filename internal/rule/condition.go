package rule

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a comparison applied between the resolved source value and
// the resolved condition value.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMatches     Operator = "matches"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// Operators lists every supported operator, used by validation.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
	OpIn, OpNotIn, OpContains, OpNotContains,
	OpMatches, OpExists, OpNotExists,
}

// SourceType discriminates where a condition reads its left-hand value.
type SourceType string

const (
	SourceEvent    SourceType = "event"
	SourceFact     SourceType = "fact"
	SourceContext  SourceType = "context"
	SourceBaseline SourceType = "baseline"
)

// Source identifies the left-hand value of a condition.
//
// Arms by Type:
//   - event: Field is a dot path into the event envelope ("data.total")
//   - fact: Pattern is a fact key or key pattern; the first match wins
//   - context: Key names a context binding (temporal aliases, catch vars)
//   - baseline: Metric/Comparison/Sensitivity describe a baseline check
//     delegated to a registered baseline provider
type Source struct {
	Type        SourceType
	Field       string
	Pattern     string
	Key         string
	Metric      string
	Comparison  string
	Sensitivity float64
}

type eventSourceJSON struct {
	Type  string `json:"type"`
	Field string `json:"field"`
}

type factSourceJSON struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

type contextSourceJSON struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type baselineSourceJSON struct {
	Type        string  `json:"type"`
	Metric      string  `json:"metric"`
	Comparison  string  `json:"comparison"`
	Sensitivity float64 `json:"sensitivity,omitempty"`
}

func (s Source) MarshalJSON() ([]byte, error) {
	switch s.Type {
	case SourceEvent:
		return json.Marshal(eventSourceJSON{Type: string(s.Type), Field: s.Field})
	case SourceFact:
		return json.Marshal(factSourceJSON{Type: string(s.Type), Pattern: s.Pattern})
	case SourceContext:
		return json.Marshal(contextSourceJSON{Type: string(s.Type), Key: s.Key})
	case SourceBaseline:
		return json.Marshal(baselineSourceJSON{
			Type: string(s.Type), Metric: s.Metric,
			Comparison: s.Comparison, Sensitivity: s.Sensitivity,
		})
	default:
		return nil, fmt.Errorf("unknown source type %q", s.Type)
	}
}

func (s *Source) UnmarshalJSON(data []byte) error {
	kind, err := peekType(data)
	if err != nil {
		return fmt.Errorf("condition source: %w", err)
	}
	switch SourceType(kind) {
	case SourceEvent:
		var v eventSourceJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("event source: %w", err)
		}
		*s = Source{Type: SourceEvent, Field: v.Field}
	case SourceFact:
		var v factSourceJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("fact source: %w", err)
		}
		*s = Source{Type: SourceFact, Pattern: v.Pattern}
	case SourceContext:
		var v contextSourceJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("context source: %w", err)
		}
		*s = Source{Type: SourceContext, Key: v.Key}
	case SourceBaseline:
		var v baselineSourceJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("baseline source: %w", err)
		}
		*s = Source{
			Type: SourceBaseline, Metric: v.Metric,
			Comparison: v.Comparison, Sensitivity: v.Sensitivity,
		}
	default:
		return fmt.Errorf("unknown source type %q", kind)
	}
	return nil
}

// Value is a condition right-hand side or action payload position: either
// a literal or a runtime reference resolved against the evaluation
// context.
//
// JSON forms: any literal; {"ref": "event.data.x"}; or the string
// shorthand "${event.data.x}" which the loader rewrites to a ref.
//
// Known limitation: a literal object with exactly the single key "ref"
// cannot round-trip, it always decodes as a reference.
type Value struct {
	Literal any
	Ref     string
	IsRef   bool
}

// LiteralValue wraps a literal.
func LiteralValue(v any) *Value { return &Value{Literal: v} }

// RefValue wraps a runtime reference path.
func RefValue(path string) *Value { return &Value{Ref: path, IsRef: true} }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsRef {
		return json.Marshal(map[string]string{"ref": v.Ref})
	}
	return json.Marshal(v.Literal)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if obj, ok := raw.(map[string]any); ok && len(obj) == 1 {
		if ref, ok := obj["ref"].(string); ok {
			*v = Value{Ref: ref, IsRef: true}
			return nil
		}
	}
	if s, ok := raw.(string); ok {
		if ref, isRef := RefShorthand(s); isRef {
			*v = Value{Ref: ref, IsRef: true}
			return nil
		}
	}
	*v = Value{Literal: raw}
	return nil
}

// RefShorthand reports whether s is the "${path}" reference shorthand and
// returns the inner path. Only strings that are a single whole reference
// qualify; mixed text is interpolation, not a ref.
func RefShorthand(s string) (string, bool) {
	if len(s) > 3 && strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		inner := s[2 : len(s)-1]
		if !strings.ContainsAny(inner, "${}") {
			return inner, true
		}
	}
	return "", false
}

// Condition compares a source value against a literal or referenced
// value. Conditions within a rule combine with logical AND.
type Condition struct {
	Source   Source   `json:"source"`
	Operator Operator `json:"operator"`
	Value    *Value   `json:"value,omitempty"`
}
