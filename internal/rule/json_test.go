package rule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_UnmarshalVariants(t *testing.T) {
	var tr Trigger
	require.NoError(t, json.Unmarshal([]byte(`{"type":"event","topic":"order.*"}`), &tr))
	assert.Equal(t, TriggerEvent, tr.Type)
	assert.Equal(t, "order.*", tr.Topic)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"fact","pattern":"orders:*"}`), &tr))
	assert.Equal(t, TriggerFact, tr.Type)
	assert.Equal(t, "orders:*", tr.Pattern)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"timer","name":"nightly"}`), &tr))
	assert.Equal(t, TriggerTimer, tr.Type)
	assert.Equal(t, "nightly", tr.Timer)
}

func TestTrigger_RejectsUnknownTypeAndFields(t *testing.T) {
	var tr Trigger
	err := json.Unmarshal([]byte(`{"type":"webhook","url":"x"}`), &tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger type")

	err = json.Unmarshal([]byte(`{"type":"event","topic":"t","extra":1}`), &tr)
	require.Error(t, err)
}

func TestTrigger_RoundTrip(t *testing.T) {
	in := Trigger{Type: TriggerEvent, Topic: "order.created"}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	var out Trigger
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestValue_RefShorthandAndLiteral(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`"${event.data.total}"`), &v))
	assert.True(t, v.IsRef)
	assert.Equal(t, "event.data.total", v.Ref)

	require.NoError(t, json.Unmarshal([]byte(`"plain ${a} text"`), &v))
	assert.False(t, v.IsRef, "mixed text is interpolation, not a ref")
	assert.Equal(t, "plain ${a} text", v.Literal)

	require.NoError(t, json.Unmarshal([]byte(`{"ref":"fact.orders:high"}`), &v))
	assert.True(t, v.IsRef)
	assert.Equal(t, "fact.orders:high", v.Ref)

	require.NoError(t, json.Unmarshal([]byte(`{"ref":"x","other":1}`), &v))
	assert.False(t, v.IsRef, "two-key object is a literal")

	require.NoError(t, json.Unmarshal([]byte(`42`), &v))
	assert.False(t, v.IsRef)
	assert.Equal(t, 42.0, v.Literal)
}

func TestRefShorthand(t *testing.T) {
	ref, ok := RefShorthand("${event.data.id}")
	require.True(t, ok)
	assert.Equal(t, "event.data.id", ref)

	_, ok = RefShorthand("${}")
	assert.False(t, ok)
	_, ok = RefShorthand("prefix ${a}")
	assert.False(t, ok)
	_, ok = RefShorthand("${a}${b}")
	assert.False(t, ok)
}

func TestAction_UnmarshalSetFact(t *testing.T) {
	var a Action
	require.NoError(t, json.Unmarshal([]byte(
		`{"type":"set_fact","key":"orders:${event.data.id}","value":true}`), &a))
	assert.Equal(t, ActionSetFact, a.Type)
	assert.Equal(t, "orders:${event.data.id}", a.Key)
	require.NotNil(t, a.Value)
	assert.Equal(t, true, a.Value.Literal)
}

func TestAction_UnmarshalNested(t *testing.T) {
	raw := `{
		"type": "try_catch",
		"try": [{"type":"call_service","service":"mailer","method":"send"}],
		"catch": {"as":"failure","actions":[{"type":"log","message":"send failed: ${failure.message}"}]},
		"finally": [{"type":"delete_fact","key":"pending"}]
	}`
	var a Action
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, ActionTryCatch, a.Type)
	require.Len(t, a.Try, 1)
	assert.Equal(t, ActionCallService, a.Try[0].Type)
	require.NotNil(t, a.Catch)
	assert.Equal(t, "failure", a.Catch.As)
	require.Len(t, a.Finally, 1)
}

func TestAction_RejectsUnknownType(t *testing.T) {
	var a Action
	err := json.Unmarshal([]byte(`{"type":"teleport"}`), &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

func TestCondition_Unmarshal(t *testing.T) {
	raw := `{
		"source": {"type":"event","field":"data.total"},
		"operator": "gt",
		"value": 100
	}`
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, SourceEvent, c.Source.Type)
	assert.Equal(t, "data.total", c.Source.Field)
	assert.Equal(t, OpGt, c.Operator)
	assert.Equal(t, 100.0, c.Value.Literal)
}

func TestDuration_UnmarshalForms(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`1500`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"1h30m"`), &d))
	assert.Equal(t, 90*time.Minute, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`-1`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"-5s"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &d))
}

func TestDuration_MarshalsAsMilliseconds(t *testing.T) {
	raw, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "2000", string(raw))
}

func TestTemporalPattern_CountDefaultsComparison(t *testing.T) {
	raw := `{"type":"count","match":{"topic":"login.failed"},"window":"5m","threshold":5}`
	var p TemporalPattern
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, TemporalCount, p.Type)
	assert.Equal(t, "gte", p.Comparison)
	assert.Equal(t, 5*time.Minute, p.Window.Std())
}

func TestRule_FullDocumentRoundTrip(t *testing.T) {
	raw := `{
		"id": "high-order",
		"name": "High value order",
		"enabled": true,
		"priority": 10,
		"trigger": {"type":"event","topic":"order.created"},
		"conditions": [
			{"source":{"type":"event","field":"data.total"},"operator":"gt","value":100}
		],
		"actions": [
			{"type":"set_fact","key":"orders:high:${event.data.id}","value":true}
		]
	}`
	var r Rule
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	out, err := json.Marshal(r)
	require.NoError(t, err)
	var back Rule
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, r, back)
}

func TestInput_MaterializeDefaultsEnabled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Input{ID: "r1", Name: "r1"}

	r := in.Materialize(now, 1)
	assert.True(t, r.Enabled, "absent enabled defaults to true")

	off := false
	in.Enabled = &off
	r = in.Materialize(now, 1)
	assert.False(t, r.Enabled)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, 1, r.Version)
}

func TestRule_AsInputRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Input{
		ID:      "r1",
		Name:    "Rule one",
		Tags:    []string{"a"},
		Trigger: Trigger{Type: TriggerEvent, Topic: "t"},
		Actions: []Action{{Type: ActionLog, Message: "hi"}},
	}
	r := in.Materialize(now, 3)
	back := r.AsInput()

	assert.Equal(t, in.ID, back.ID)
	assert.Equal(t, in.Trigger, back.Trigger)
	assert.Equal(t, in.Actions, back.Actions)
	require.NotNil(t, back.Enabled)
	assert.True(t, *back.Enabled)
}
