package rule

import (
	"encoding/json"
	"fmt"
)

// TemporalType discriminates the temporal pattern union.
type TemporalType string

const (
	TemporalSequence  TemporalType = "sequence"
	TemporalAbsence   TemporalType = "absence"
	TemporalCount     TemporalType = "count"
	TemporalAggregate TemporalType = "aggregate"
)

// AggregateFunc names the aggregation applied by aggregate patterns.
type AggregateFunc string

const (
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
	AggCount AggregateFunc = "count"
)

// EventMatcher matches events inside a temporal pattern.
//
// Topic may be a literal or a pattern. Where holds per-field equality
// constraints on event data. As aliases the matched event so its data is
// reachable from conditions and actions as ${alias.field}.
type EventMatcher struct {
	Topic string         `json:"topic"`
	Where map[string]any `json:"where,omitempty"`
	As    string         `json:"as,omitempty"`
}

// TemporalPattern fires a rule based on event behavior over a window
// rather than a single event.
//
// Arms by Type:
//   - sequence: Sequence matchers must all occur, in order, within Within
//   - absence: fires Within after an After event if no Expected arrived
//   - count: count of Match events in a sliding Window vs Threshold
//   - aggregate: Function over Field of Match events in Window vs Threshold
//
// CorrelateBy names the event data field used as the correlation key for
// sequence patterns; empty means the event correlation id.
type TemporalPattern struct {
	Type TemporalType

	Sequence []EventMatcher
	Within   Duration

	After    *EventMatcher
	Expected *EventMatcher

	Match      *EventMatcher
	Window     Duration
	Threshold  float64
	Comparison string
	Function   AggregateFunc
	Field      string

	CorrelateBy string
}

type sequencePatternJSON struct {
	Type        string         `json:"type"`
	Sequence    []EventMatcher `json:"sequence"`
	Within      Duration       `json:"within"`
	CorrelateBy string         `json:"correlateBy,omitempty"`
}

type absencePatternJSON struct {
	Type     string        `json:"type"`
	After    *EventMatcher `json:"after"`
	Expected *EventMatcher `json:"expected"`
	Within   Duration      `json:"within"`
}

type countPatternJSON struct {
	Type       string        `json:"type"`
	Match      *EventMatcher `json:"match"`
	Window     Duration      `json:"window"`
	Threshold  float64       `json:"threshold"`
	Comparison string        `json:"comparison,omitempty"`
}

type aggregatePatternJSON struct {
	Type       string        `json:"type"`
	Match      *EventMatcher `json:"match"`
	Function   string        `json:"function"`
	Field      string        `json:"field,omitempty"`
	Window     Duration      `json:"window"`
	Threshold  float64       `json:"threshold"`
	Comparison string        `json:"comparison,omitempty"`
}

func (p TemporalPattern) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case TemporalSequence:
		return json.Marshal(sequencePatternJSON{
			Type: string(p.Type), Sequence: p.Sequence,
			Within: p.Within, CorrelateBy: p.CorrelateBy,
		})
	case TemporalAbsence:
		return json.Marshal(absencePatternJSON{
			Type: string(p.Type), After: p.After, Expected: p.Expected, Within: p.Within,
		})
	case TemporalCount:
		return json.Marshal(countPatternJSON{
			Type: string(p.Type), Match: p.Match, Window: p.Window,
			Threshold: p.Threshold, Comparison: p.Comparison,
		})
	case TemporalAggregate:
		return json.Marshal(aggregatePatternJSON{
			Type: string(p.Type), Match: p.Match, Function: string(p.Function),
			Field: p.Field, Window: p.Window,
			Threshold: p.Threshold, Comparison: p.Comparison,
		})
	default:
		return nil, fmt.Errorf("unknown temporal pattern type %q", p.Type)
	}
}

func (p *TemporalPattern) UnmarshalJSON(data []byte) error {
	kind, err := peekType(data)
	if err != nil {
		return fmt.Errorf("temporal pattern: %w", err)
	}
	switch TemporalType(kind) {
	case TemporalSequence:
		var v sequencePatternJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("sequence pattern: %w", err)
		}
		*p = TemporalPattern{
			Type: TemporalSequence, Sequence: v.Sequence,
			Within: v.Within, CorrelateBy: v.CorrelateBy,
		}
	case TemporalAbsence:
		var v absencePatternJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("absence pattern: %w", err)
		}
		*p = TemporalPattern{
			Type: TemporalAbsence, After: v.After, Expected: v.Expected, Within: v.Within,
		}
	case TemporalCount:
		var v countPatternJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("count pattern: %w", err)
		}
		comparison := v.Comparison
		if comparison == "" {
			comparison = "gte"
		}
		*p = TemporalPattern{
			Type: TemporalCount, Match: v.Match, Window: v.Window,
			Threshold: v.Threshold, Comparison: comparison,
		}
	case TemporalAggregate:
		var v aggregatePatternJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("aggregate pattern: %w", err)
		}
		comparison := v.Comparison
		if comparison == "" {
			comparison = "gte"
		}
		*p = TemporalPattern{
			Type: TemporalAggregate, Match: v.Match, Function: AggregateFunc(v.Function),
			Field: v.Field, Window: v.Window,
			Threshold: v.Threshold, Comparison: comparison,
		}
	default:
		return fmt.Errorf("unknown temporal pattern type %q", kind)
	}
	return nil
}
