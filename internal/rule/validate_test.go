package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		ID:      "r1",
		Name:    "Rule one",
		Trigger: Trigger{Type: TriggerEvent, Topic: "order.created"},
		Actions: []Action{{Type: ActionLog, Message: "hi"}},
	}
}

func TestValidate_AcceptsMinimalRule(t *testing.T) {
	require.NoError(t, validInput().Validate())
}

func TestValidate_RequiredFields(t *testing.T) {
	in := validInput()
	in.ID = ""
	assertValidationAt(t, in.Validate(), "id")

	in = validInput()
	in.Name = ""
	assertValidationAt(t, in.Validate(), "name")

	in = validInput()
	in.Actions = nil
	assertValidationAt(t, in.Validate(), "actions")
}

func TestValidate_TriggerArms(t *testing.T) {
	in := validInput()
	in.Trigger = Trigger{Type: TriggerEvent}
	assertValidationAt(t, in.Validate(), "trigger")

	in.Trigger = Trigger{Type: TriggerFact}
	assertValidationAt(t, in.Validate(), "trigger")

	in.Trigger = Trigger{Type: TriggerTimer}
	assertValidationAt(t, in.Validate(), "trigger")

	in.Trigger = Trigger{Type: "webhook"}
	assertValidationAt(t, in.Validate(), "trigger")
}

func TestValidate_TemporalPatterns(t *testing.T) {
	in := validInput()
	in.Trigger = Trigger{Type: TriggerTemporal, Temporal: &TemporalPattern{
		Type:     TemporalSequence,
		Sequence: []EventMatcher{{Topic: "a"}},
		Within:   Duration(1000),
	}}
	err := in.Validate()
	require.Error(t, err, "sequence needs at least two matchers")

	in.Trigger.Temporal = &TemporalPattern{
		Type:     TemporalSequence,
		Sequence: []EventMatcher{{Topic: "a"}, {Topic: "b"}},
		Within:   Duration(1000),
	}
	require.NoError(t, in.Validate())

	in.Trigger.Temporal = &TemporalPattern{
		Type:     TemporalAbsence,
		After:    &EventMatcher{Topic: "order.shipped"},
		Expected: &EventMatcher{Topic: "order.delivered"},
	}
	require.Error(t, in.Validate(), "absence needs a positive within")

	in.Trigger.Temporal = &TemporalPattern{
		Type:       TemporalAggregate,
		Match:      &EventMatcher{Topic: "cpu.sample"},
		Function:   AggAvg,
		Window:     Duration(1000),
		Comparison: "gte",
	}
	require.Error(t, in.Validate(), "avg needs a field")

	in.Trigger.Temporal.Field = "load"
	require.NoError(t, in.Validate())
}

func TestValidate_Conditions(t *testing.T) {
	in := validInput()
	in.Conditions = []Condition{{
		Source:   Source{Type: SourceEvent, Field: "data.total"},
		Operator: OpGt,
	}}
	require.Error(t, in.Validate(), "gt requires a value")

	in.Conditions[0].Value = LiteralValue(100)
	require.NoError(t, in.Validate())

	in.Conditions = []Condition{{
		Source:   Source{Type: SourceEvent, Field: "data.name"},
		Operator: OpExists,
	}}
	require.NoError(t, in.Validate(), "exists takes no value")

	in.Conditions = []Condition{{
		Source:   Source{Type: SourceEvent, Field: "data.name"},
		Operator: OpMatches,
		Value:    LiteralValue("(unclosed"),
	}}
	require.Error(t, in.Validate(), "matches rejects invalid regex at registration")

	in.Conditions = []Condition{{
		Source:   Source{Type: SourceEvent, Field: "data.name"},
		Operator: "approximately",
		Value:    LiteralValue(1),
	}}
	require.Error(t, in.Validate())
}

func TestValidate_TimerSpec(t *testing.T) {
	in := validInput()
	in.Actions = []Action{{Type: ActionSetTimer, Timer: &TimerSpec{
		Name:     "escalate",
		Duration: Duration(1000),
		Cron:     "* * * * *",
		OnExpire: EmitSpec{Topic: "escalation.due"},
	}}}
	require.Error(t, in.Validate(), "duration and cron are mutually exclusive")

	in.Actions[0].Timer.Cron = ""
	require.NoError(t, in.Validate())

	in.Actions[0].Timer = &TimerSpec{
		Name:     "nightly",
		Cron:     "0 3 * * *",
		OnExpire: EmitSpec{Topic: "maintenance.due"},
	}
	require.NoError(t, in.Validate())

	in.Actions[0].Timer.Cron = "not a cron"
	require.Error(t, in.Validate())
}

func TestValidate_NestedActions(t *testing.T) {
	in := validInput()
	in.Actions = []Action{{
		Type: ActionConditional,
		Conditions: []Condition{{
			Source:   Source{Type: SourceEvent, Field: "data.ok"},
			Operator: OpEq,
			Value:    LiteralValue(true),
		}},
		Then: []Action{{Type: ActionLog, Message: "ok"}},
		Else: []Action{{Type: ActionEmitEvent}},
	}}
	err := in.Validate()
	require.Error(t, err, "nested emit_event without topic is caught")
	assert.Contains(t, err.Error(), "else[0]")
}

func assertValidationAt(t *testing.T, err error, path string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), path)
}
