package rule

import (
	"encoding/json"
	"fmt"
)

// TriggerType discriminates the trigger union.
type TriggerType string

const (
	TriggerEvent    TriggerType = "event"
	TriggerFact     TriggerType = "fact"
	TriggerTimer    TriggerType = "timer"
	TriggerTemporal TriggerType = "temporal"
)

// Trigger selects when a rule becomes a candidate for evaluation.
//
// Exactly one arm is populated according to Type:
//   - event: Topic is a literal topic or a pattern ("order.*", "*")
//   - fact: Pattern is matched against changing fact keys
//   - timer: Timer names the timer whose expiry fires the rule
//   - temporal: Temporal holds one of the four temporal patterns
type Trigger struct {
	Type     TriggerType
	Topic    string
	Pattern  string
	Timer    string
	Temporal *TemporalPattern
}

type eventTriggerJSON struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type factTriggerJSON struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

type timerTriggerJSON struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type temporalTriggerJSON struct {
	Type    string           `json:"type"`
	Pattern *TemporalPattern `json:"pattern"`
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	switch t.Type {
	case TriggerEvent:
		return json.Marshal(eventTriggerJSON{Type: string(t.Type), Topic: t.Topic})
	case TriggerFact:
		return json.Marshal(factTriggerJSON{Type: string(t.Type), Pattern: t.Pattern})
	case TriggerTimer:
		return json.Marshal(timerTriggerJSON{Type: string(t.Type), Name: t.Timer})
	case TriggerTemporal:
		return json.Marshal(temporalTriggerJSON{Type: string(t.Type), Pattern: t.Temporal})
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	kind, err := peekType(data)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	switch TriggerType(kind) {
	case TriggerEvent:
		var v eventTriggerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("event trigger: %w", err)
		}
		*t = Trigger{Type: TriggerEvent, Topic: v.Topic}
	case TriggerFact:
		var v factTriggerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("fact trigger: %w", err)
		}
		*t = Trigger{Type: TriggerFact, Pattern: v.Pattern}
	case TriggerTimer:
		var v timerTriggerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("timer trigger: %w", err)
		}
		*t = Trigger{Type: TriggerTimer, Timer: v.Name}
	case TriggerTemporal:
		var v temporalTriggerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("temporal trigger: %w", err)
		}
		*t = Trigger{Type: TriggerTemporal, Temporal: v.Pattern}
	default:
		return fmt.Errorf("unknown trigger type %q", kind)
	}
	return nil
}
