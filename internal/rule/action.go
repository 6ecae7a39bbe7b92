package rule

import (
	"encoding/json"
	"fmt"
)

// ActionType discriminates the action union.
type ActionType string

const (
	ActionSetFact     ActionType = "set_fact"
	ActionDeleteFact  ActionType = "delete_fact"
	ActionEmitEvent   ActionType = "emit_event"
	ActionSetTimer    ActionType = "set_timer"
	ActionCancelTimer ActionType = "cancel_timer"
	ActionCallService ActionType = "call_service"
	ActionLog         ActionType = "log"
	ActionConditional ActionType = "conditional"
	ActionTryCatch    ActionType = "try_catch"
)

// EmitSpec describes an event to synthesize: by a set_timer onExpire or an
// emit_event action.
type EmitSpec struct {
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data,omitempty"`
}

// TimerSpec configures a named timer. Exactly one of Duration or Cron must
// be set. Repeat reschedules duration timers after each fire until
// MaxCount fires have happened (0 = unbounded).
type TimerSpec struct {
	Name     string   `json:"name"`
	Duration Duration `json:"duration,omitempty"`
	Cron     string   `json:"cron,omitempty"`
	OnExpire EmitSpec `json:"onExpire"`
	Repeat   bool     `json:"repeat,omitempty"`
	MaxCount int      `json:"maxCount,omitempty"`
}

// CatchSpec is the catch arm of a try_catch: the error is bound into the
// evaluation context under As (default "error") while Actions run.
type CatchSpec struct {
	As      string   `json:"as,omitempty"`
	Actions []Action `json:"actions"`
}

// Action is one step of a rule's ordered action list.
//
// Arms by Type:
//   - set_fact: Key, Value (interpolated key, ref-resolved value)
//   - delete_fact: Key
//   - emit_event: Topic, Data (forward chaining re-entry)
//   - set_timer: Timer
//   - cancel_timer: Name
//   - call_service: Service, Method, Args, optional TimeoutMs
//   - log: Level, Message
//   - conditional: Conditions, Then, Else
//   - try_catch: Try, Catch, Finally
type Action struct {
	Type ActionType

	Key   string
	Value *Value

	Topic string
	Data  map[string]any

	Timer *TimerSpec
	Name  string

	Service   string
	Method    string
	Args      map[string]any
	TimeoutMs int

	Level   string
	Message string

	Conditions []Condition
	Then       []Action
	Else       []Action

	Try     []Action
	Catch   *CatchSpec
	Finally []Action
}

type setFactJSON struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value *Value `json:"value"`
}

type deleteFactJSON struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type emitEventJSON struct {
	Type  string         `json:"type"`
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data,omitempty"`
}

type setTimerJSON struct {
	Type  string     `json:"type"`
	Timer *TimerSpec `json:"timer"`
}

type cancelTimerJSON struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type callServiceJSON struct {
	Type      string         `json:"type"`
	Service   string         `json:"service"`
	Method    string         `json:"method"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMs int            `json:"timeoutMs,omitempty"`
}

type logJSON struct {
	Type    string `json:"type"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

type conditionalJSON struct {
	Type       string      `json:"type"`
	Conditions []Condition `json:"conditions"`
	Then       []Action    `json:"then"`
	Else       []Action    `json:"else,omitempty"`
}

type tryCatchJSON struct {
	Type    string     `json:"type"`
	Try     []Action   `json:"try"`
	Catch   *CatchSpec `json:"catch,omitempty"`
	Finally []Action   `json:"finally,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ActionSetFact:
		return json.Marshal(setFactJSON{Type: string(a.Type), Key: a.Key, Value: a.Value})
	case ActionDeleteFact:
		return json.Marshal(deleteFactJSON{Type: string(a.Type), Key: a.Key})
	case ActionEmitEvent:
		return json.Marshal(emitEventJSON{Type: string(a.Type), Topic: a.Topic, Data: a.Data})
	case ActionSetTimer:
		return json.Marshal(setTimerJSON{Type: string(a.Type), Timer: a.Timer})
	case ActionCancelTimer:
		return json.Marshal(cancelTimerJSON{Type: string(a.Type), Name: a.Name})
	case ActionCallService:
		return json.Marshal(callServiceJSON{
			Type: string(a.Type), Service: a.Service, Method: a.Method,
			Args: a.Args, TimeoutMs: a.TimeoutMs,
		})
	case ActionLog:
		return json.Marshal(logJSON{Type: string(a.Type), Level: a.Level, Message: a.Message})
	case ActionConditional:
		return json.Marshal(conditionalJSON{
			Type: string(a.Type), Conditions: a.Conditions, Then: a.Then, Else: a.Else,
		})
	case ActionTryCatch:
		return json.Marshal(tryCatchJSON{
			Type: string(a.Type), Try: a.Try, Catch: a.Catch, Finally: a.Finally,
		})
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	kind, err := peekType(data)
	if err != nil {
		return fmt.Errorf("action: %w", err)
	}
	switch ActionType(kind) {
	case ActionSetFact:
		var v setFactJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("set_fact: %w", err)
		}
		*a = Action{Type: ActionSetFact, Key: v.Key, Value: v.Value}
	case ActionDeleteFact:
		var v deleteFactJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("delete_fact: %w", err)
		}
		*a = Action{Type: ActionDeleteFact, Key: v.Key}
	case ActionEmitEvent:
		var v emitEventJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("emit_event: %w", err)
		}
		*a = Action{Type: ActionEmitEvent, Topic: v.Topic, Data: v.Data}
	case ActionSetTimer:
		var v setTimerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("set_timer: %w", err)
		}
		*a = Action{Type: ActionSetTimer, Timer: v.Timer}
	case ActionCancelTimer:
		var v cancelTimerJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("cancel_timer: %w", err)
		}
		*a = Action{Type: ActionCancelTimer, Name: v.Name}
	case ActionCallService:
		var v callServiceJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("call_service: %w", err)
		}
		*a = Action{
			Type: ActionCallService, Service: v.Service, Method: v.Method,
			Args: v.Args, TimeoutMs: v.TimeoutMs,
		}
	case ActionLog:
		var v logJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("log: %w", err)
		}
		*a = Action{Type: ActionLog, Level: v.Level, Message: v.Message}
	case ActionConditional:
		var v conditionalJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("conditional: %w", err)
		}
		*a = Action{Type: ActionConditional, Conditions: v.Conditions, Then: v.Then, Else: v.Else}
	case ActionTryCatch:
		var v tryCatchJSON
		if err := decodeStrict(data, &v); err != nil {
			return fmt.Errorf("try_catch: %w", err)
		}
		*a = Action{Type: ActionTryCatch, Try: v.Try, Catch: v.Catch, Finally: v.Finally}
	default:
		return fmt.Errorf("unknown action type %q", kind)
	}
	return nil
}
