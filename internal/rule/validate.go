package rule

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks an Input for structural correctness before
// registration. It returns the first problem found as a ValidationError.
func (in Input) Validate() error {
	if in.ID == "" {
		return validationf("id", "rule id is required")
	}
	if in.Name == "" {
		return validationf("name", "rule name is required")
	}
	if err := in.Trigger.validate("trigger"); err != nil {
		return err
	}
	for i, c := range in.Conditions {
		if err := c.validate(fmt.Sprintf("conditions[%d]", i)); err != nil {
			return err
		}
	}
	if len(in.Actions) == 0 {
		return validationf("actions", "rule must declare at least one action")
	}
	for i, a := range in.Actions {
		if err := a.validate(fmt.Sprintf("actions[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (t Trigger) validate(path string) error {
	switch t.Type {
	case TriggerEvent:
		if t.Topic == "" {
			return validationf(path, "event trigger requires a topic")
		}
	case TriggerFact:
		if t.Pattern == "" {
			return validationf(path, "fact trigger requires a pattern")
		}
	case TriggerTimer:
		if t.Timer == "" {
			return validationf(path, "timer trigger requires a timer name")
		}
	case TriggerTemporal:
		if t.Temporal == nil {
			return validationf(path, "temporal trigger requires a pattern")
		}
		return t.Temporal.validate(path + ".pattern")
	default:
		return validationf(path, "unknown trigger type %q", t.Type)
	}
	return nil
}

func (p TemporalPattern) validate(path string) error {
	switch p.Type {
	case TemporalSequence:
		if len(p.Sequence) < 2 {
			return validationf(path, "sequence requires at least two matchers")
		}
		if p.Within <= 0 {
			return validationf(path, "sequence requires a positive within window")
		}
		for i, m := range p.Sequence {
			if m.Topic == "" {
				return validationf(fmt.Sprintf("%s.sequence[%d]", path, i), "matcher requires a topic")
			}
		}
	case TemporalAbsence:
		if p.After == nil || p.After.Topic == "" {
			return validationf(path, "absence requires an after matcher")
		}
		if p.Expected == nil || p.Expected.Topic == "" {
			return validationf(path, "absence requires an expected matcher")
		}
		if p.Within <= 0 {
			return validationf(path, "absence requires a positive within window")
		}
	case TemporalCount:
		if p.Match == nil || p.Match.Topic == "" {
			return validationf(path, "count requires a match matcher")
		}
		if p.Window <= 0 {
			return validationf(path, "count requires a positive window")
		}
		if err := validComparison(p.Comparison); err != nil {
			return validationf(path, "%v", err)
		}
	case TemporalAggregate:
		if p.Match == nil || p.Match.Topic == "" {
			return validationf(path, "aggregate requires a match matcher")
		}
		if p.Window <= 0 {
			return validationf(path, "aggregate requires a positive window")
		}
		switch p.Function {
		case AggSum, AggAvg, AggMin, AggMax:
			if p.Field == "" {
				return validationf(path, "aggregate %s requires a field", p.Function)
			}
		case AggCount:
		default:
			return validationf(path, "unknown aggregate function %q", p.Function)
		}
		if err := validComparison(p.Comparison); err != nil {
			return validationf(path, "%v", err)
		}
	default:
		return validationf(path, "unknown temporal pattern type %q", p.Type)
	}
	return nil
}

func validComparison(cmp string) error {
	switch cmp {
	case "gte", "lte", "eq":
		return nil
	default:
		return fmt.Errorf("comparison must be gte, lte, or eq, got %q", cmp)
	}
}

func (c Condition) validate(path string) error {
	switch c.Source.Type {
	case SourceEvent:
		if c.Source.Field == "" {
			return validationf(path+".source", "event source requires a field")
		}
	case SourceFact:
		if c.Source.Pattern == "" {
			return validationf(path+".source", "fact source requires a pattern")
		}
	case SourceContext:
		if c.Source.Key == "" {
			return validationf(path+".source", "context source requires a key")
		}
	case SourceBaseline:
		if c.Source.Metric == "" {
			return validationf(path+".source", "baseline source requires a metric")
		}
	default:
		return validationf(path+".source", "unknown source type %q", c.Source.Type)
	}

	known := false
	for _, op := range Operators {
		if c.Operator == op {
			known = true
			break
		}
	}
	if !known {
		return validationf(path, "unknown operator %q", c.Operator)
	}

	switch c.Operator {
	case OpExists, OpNotExists:
		// Value is ignored for presence checks.
	case OpMatches:
		if c.Value == nil {
			return validationf(path, "matches requires a value")
		}
		if !c.Value.IsRef {
			pattern, ok := c.Value.Literal.(string)
			if !ok {
				return validationf(path, "matches requires a string pattern")
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return validationf(path, "invalid regex %q: %v", pattern, err)
			}
		}
	default:
		if c.Value == nil {
			return validationf(path, "operator %s requires a value", c.Operator)
		}
	}
	return nil
}

func (a Action) validate(path string) error {
	switch a.Type {
	case ActionSetFact:
		if a.Key == "" {
			return validationf(path, "set_fact requires a key")
		}
		if a.Value == nil {
			return validationf(path, "set_fact requires a value")
		}
	case ActionDeleteFact:
		if a.Key == "" {
			return validationf(path, "delete_fact requires a key")
		}
	case ActionEmitEvent:
		if a.Topic == "" {
			return validationf(path, "emit_event requires a topic")
		}
	case ActionSetTimer:
		if a.Timer == nil {
			return validationf(path, "set_timer requires a timer spec")
		}
		return a.Timer.validate(path + ".timer")
	case ActionCancelTimer:
		if a.Name == "" {
			return validationf(path, "cancel_timer requires a name")
		}
	case ActionCallService:
		if a.Service == "" || a.Method == "" {
			return validationf(path, "call_service requires service and method")
		}
	case ActionLog:
		if a.Message == "" {
			return validationf(path, "log requires a message")
		}
		switch a.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return validationf(path, "unknown log level %q", a.Level)
		}
	case ActionConditional:
		if len(a.Conditions) == 0 {
			return validationf(path, "conditional requires conditions")
		}
		for i, c := range a.Conditions {
			if err := c.validate(fmt.Sprintf("%s.conditions[%d]", path, i)); err != nil {
				return err
			}
		}
		if len(a.Then) == 0 {
			return validationf(path, "conditional requires a then branch")
		}
		for i, nested := range a.Then {
			if err := nested.validate(fmt.Sprintf("%s.then[%d]", path, i)); err != nil {
				return err
			}
		}
		for i, nested := range a.Else {
			if err := nested.validate(fmt.Sprintf("%s.else[%d]", path, i)); err != nil {
				return err
			}
		}
	case ActionTryCatch:
		if len(a.Try) == 0 {
			return validationf(path, "try_catch requires a try block")
		}
		for i, nested := range a.Try {
			if err := nested.validate(fmt.Sprintf("%s.try[%d]", path, i)); err != nil {
				return err
			}
		}
		if a.Catch != nil {
			for i, nested := range a.Catch.Actions {
				if err := nested.validate(fmt.Sprintf("%s.catch.actions[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		for i, nested := range a.Finally {
			if err := nested.validate(fmt.Sprintf("%s.finally[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		return validationf(path, "unknown action type %q", a.Type)
	}
	return nil
}

func (t TimerSpec) validate(path string) error {
	if t.Name == "" {
		return validationf(path, "timer requires a name")
	}
	hasDuration := t.Duration > 0
	hasCron := t.Cron != ""
	if hasDuration == hasCron {
		return validationf(path, "timer requires exactly one of duration or cron")
	}
	if hasCron {
		if _, err := cronParser.Parse(t.Cron); err != nil {
			return validationf(path, "invalid cron expression %q: %v", t.Cron, err)
		}
	}
	if t.OnExpire.Topic == "" {
		return validationf(path, "timer requires an onExpire topic")
	}
	if t.MaxCount < 0 {
		return validationf(path, "maxCount must be non-negative")
	}
	return nil
}
