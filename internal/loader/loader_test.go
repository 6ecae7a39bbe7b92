package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidefall/reflex/internal/rule"
)

const singleRuleJSON = `{
	"id": "high-order",
	"name": "High value order",
	"trigger": {"type": "event", "topic": "order.created"},
	"conditions": [
		{"source": {"type": "event", "field": "data.total"}, "operator": "gt", "value": 100}
	],
	"actions": [
		{"type": "set_fact", "key": "orders:high:${event.data.id}", "value": true}
	]
}`

func TestParse_SingleRuleObject(t *testing.T) {
	doc, err := Parse([]byte(singleRuleJSON), FormatJSON)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "high-order", doc.Rules[0].ID)
	assert.Equal(t, rule.TriggerEvent, doc.Rules[0].Trigger.Type)
}

func TestParse_RuleSequence(t *testing.T) {
	data := `[
		` + singleRuleJSON + `,
		{
			"id": "audit",
			"name": "Audit everything",
			"trigger": {"type": "event", "topic": "**"},
			"actions": [{"type": "log", "message": "saw ${event.topic}"}]
		}
	]`
	doc, err := Parse([]byte(data), FormatJSON)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, "high-order", doc.Rules[0].ID)
	assert.Equal(t, "audit", doc.Rules[1].ID)
}

func TestParse_RulesCollection(t *testing.T) {
	data := `{"rules": [` + singleRuleJSON + `]}`
	doc, err := Parse([]byte(data), FormatJSON)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
}

func TestParse_YAMLNormalizesToJSON(t *testing.T) {
	data := []byte(`
id: high-order
name: High value order
trigger:
  type: event
  topic: order.created
conditions:
  - source: {type: event, field: data.total}
    operator: gt
    value: 100
actions:
  - type: set_fact
    key: "orders:high:${event.data.id}"
    value: true
`)
	doc, err := Parse(data, FormatYAML)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	r := doc.Rules[0]
	require.Len(t, r.Conditions, 1)
	assert.Equal(t, rule.OpGt, r.Conditions[0].Operator)
	assert.Equal(t, 100.0, r.Conditions[0].Value.Literal)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	data := `{
		"id": "r1",
		"name": "r1",
		"trigger": {"type": "event", "topic": "t"},
		"actions": [{"type": "log", "message": "x"}],
		"severity": "high"
	}`
	_, err := Parse([]byte(data), FormatJSON)
	require.Error(t, err)
}

func TestParse_RejectsInvalidRule(t *testing.T) {
	data := `{
		"id": "r1",
		"name": "r1",
		"trigger": {"type": "event", "topic": "t"},
		"actions": []
	}`
	_, err := Parse([]byte(data), FormatJSON)
	require.Error(t, err)
	assert.True(t, rule.IsValidation(err))
}

func TestParse_RejectsScalars(t *testing.T) {
	_, err := Parse([]byte(`42`), FormatJSON)
	require.Error(t, err)
	_, err = Parse([]byte(`not yaml: [`), FormatYAML)
	require.Error(t, err)
}

const thresholdTemplateJSON = `{
	"templateId": "threshold-alert",
	"parameters": [
		{"name": "topic", "type": "string", "validate": "[a-z.]+"},
		{"name": "limit", "type": "number"},
		{"name": "label", "type": "string", "default": "default"}
	],
	"blueprint": {
		"id": "alert-{{label}}",
		"name": "Alert when {{topic}} exceeds {{limit}}",
		"trigger": {"type": "event", "topic": "{{topic}}"},
		"conditions": [
			{"source": {"type": "event", "field": "data.value"}, "operator": "gt", "value": "{{limit}}"}
		],
		"actions": [{"type": "set_fact", "key": "alerts:{{label}}", "value": true}]
	}
}`

func TestParseTemplate_BuildChecks(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(thresholdTemplateJSON))
	require.NoError(t, err)
	assert.Equal(t, "threshold-alert", tmpl.TemplateID)
	require.Len(t, tmpl.Parameters, 3)

	_, err = ParseTemplate([]byte(`{"parameters": [], "blueprint": {"id": "x"}}`))
	require.Error(t, err, "templateId is required")

	_, err = ParseTemplate([]byte(`{
		"templateId": "bad",
		"parameters": [{"name": "p", "type": "string", "validate": "("}],
		"blueprint": {"id": "x"}
	}`))
	require.Error(t, err, "invalid validate regex is rejected at build time")

	_, err = ParseTemplate([]byte(`{
		"templateId": "bad",
		"blueprint": {"id": "rule-{{mystery}}"}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared parameters")
}

func TestInstantiate_TypedAndInterpolatedPlaceholders(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(thresholdTemplateJSON))
	require.NoError(t, err)

	in, err := tmpl.Instantiate(map[string]any{
		"topic": "cpu.sample",
		"limit": 90,
		"label": "cpu",
	})
	require.NoError(t, err)
	assert.Equal(t, "alert-cpu", in.ID)
	assert.Equal(t, "cpu.sample", in.Trigger.Topic)
	assert.Equal(t, "Alert when cpu.sample exceeds 90", in.Name)
	require.Len(t, in.Conditions, 1)
	assert.Equal(t, 90.0, in.Conditions[0].Value.Literal, "whole-placeholder string takes the typed value")
}

func TestInstantiate_DefaultsAndErrors(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(thresholdTemplateJSON))
	require.NoError(t, err)

	in, err := tmpl.Instantiate(map[string]any{"topic": "disk.full", "limit": 1})
	require.NoError(t, err)
	assert.Equal(t, "alert-default", in.ID, "absent parameter takes its default")

	_, err = tmpl.Instantiate(map[string]any{"topic": "disk.full"})
	require.Error(t, err, "missing parameter without default")

	_, err = tmpl.Instantiate(map[string]any{"topic": "disk.full", "limit": "lots"})
	require.Error(t, err, "type mismatch")

	_, err = tmpl.Instantiate(map[string]any{"topic": "UPPER", "limit": 1})
	require.Error(t, err, "validate pattern is anchored")

	_, err = tmpl.Instantiate(map[string]any{"topic": "disk.full", "limit": 1, "bogus": true})
	require.Error(t, err, "undeclared parameter supplied")
}

func TestParse_TemplateInstantiationInDocument(t *testing.T) {
	data := `{
		"templates": [` + thresholdTemplateJSON + `],
		"rules": [
			{"template": "threshold-alert", "parameters": {"topic": "cpu.sample", "limit": 90, "label": "cpu"}},
			` + singleRuleJSON + `
		]
	}`
	doc, err := Parse([]byte(data), FormatJSON)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, "alert-cpu", doc.Rules[0].ID)
	assert.Equal(t, "high-order", doc.Rules[1].ID)

	bad := `{
		"rules": [{"template": "ghost", "parameters": {}}]
	}`
	_, err = Parse([]byte(bad), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestParse_SingleTemplateDeclaration(t *testing.T) {
	data := `{"template": ` + thresholdTemplateJSON + `}`
	doc, err := Parse([]byte(data), FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, doc.Rules)
	require.Len(t, doc.Templates, 1)
	assert.Equal(t, "threshold-alert", doc.Templates[0].TemplateID)
}

func TestLoadPaths_TemplatesCarryAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	tmplPath := write("00-templates.json", `{"template": `+thresholdTemplateJSON+`}`)
	rulesPath := write("10-rules.json", `[
		{"template": "threshold-alert", "parameters": {"topic": "cpu.sample", "limit": 90, "label": "cpu"}}
	]`)

	rules, err := LoadPaths([]string{tmplPath, rulesPath})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "alert-cpu", rules[0].ID)
}

func TestLoadDir_LexicalOrderMixedFormats(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
id: second
name: Second
trigger: {type: event, topic: t}
actions: [{type: log, message: x}]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{
		"id": "first",
		"name": "First",
		"trigger": {"type": "event", "topic": "t"},
		"actions": [{"type": "log", "message": "x"}]
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	rules, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "first", rules[0].ID)
	assert.Equal(t, "second", rules[1].ID)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatForPath("rules.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("RULES.YML"))
	assert.Equal(t, FormatJSON, FormatForPath("rules.json"))
	assert.Equal(t, FormatJSON, FormatForPath("rules"))
}

func TestParse_DurationFieldsSurviveTheTrip(t *testing.T) {
	data := []byte(`
id: undelivered
name: Undelivered order
trigger:
  type: temporal
  temporal:
    type: absence
    after: {topic: order.shipped}
    expected: {topic: order.delivered}
    within: "48h"
actions:
  - type: emit_event
    topic: order.stuck
`)
	doc, err := Parse(data, FormatYAML)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	require.NotNil(t, doc.Rules[0].Trigger.Temporal)
	assert.Equal(t, 48*time.Hour, doc.Rules[0].Trigger.Temporal.Within.Std())
}
