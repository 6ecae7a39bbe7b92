package loader

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/value"
)

// ParamType is the declared type of a template parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

var paramTypes = map[ParamType]bool{
	ParamString: true, ParamNumber: true, ParamBoolean: true,
	ParamObject: true, ParamArray: true, ParamAny: true,
}

// Parameter declares one template parameter. Validate is an optional
// anchored regular expression applied to string-typed values.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Default     any       `json:"default,omitempty"`
	Validate    string    `json:"validate,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Template is a parameterized rule blueprint. Placeholders "{{name}}"
// inside the blueprint are replaced at instantiation: a string that is
// exactly one placeholder takes the parameter's typed value, a string
// mixing placeholders with other text interpolates them as strings.
type Template struct {
	TemplateID  string          `json:"templateId"`
	Description string          `json:"description,omitempty"`
	Parameters  []Parameter     `json:"parameters,omitempty"`
	Blueprint   json.RawMessage `json:"blueprint"`

	params    map[string]Parameter
	validates map[string]*regexp.Regexp
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ParseTemplate decodes and builds a template. Placeholders referencing
// undeclared parameters are rejected here, at build time.
func ParseTemplate(raw json.RawMessage) (*Template, error) {
	var t Template
	if err := decodeStrict(raw, &t); err != nil {
		return nil, &rule.ValidationError{Path: "template", Message: fmt.Sprintf("invalid template: %v", err)}
	}
	if t.TemplateID == "" {
		return nil, &rule.ValidationError{Path: "template.templateId", Message: "templateId is required"}
	}
	if len(t.Blueprint) == 0 || sniff(t.Blueprint) != '{' {
		return nil, &rule.ValidationError{Path: "template.blueprint", Message: "blueprint must be a rule object"}
	}

	t.params = make(map[string]Parameter, len(t.Parameters))
	t.validates = make(map[string]*regexp.Regexp)
	for i, p := range t.Parameters {
		path := fmt.Sprintf("template.parameters[%d]", i)
		if p.Name == "" {
			return nil, &rule.ValidationError{Path: path, Message: "parameter name is required"}
		}
		if _, dup := t.params[p.Name]; dup {
			return nil, &rule.ValidationError{Path: path, Message: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		if p.Type == "" {
			p.Type = ParamAny
			t.Parameters[i].Type = ParamAny
		}
		if !paramTypes[p.Type] {
			return nil, &rule.ValidationError{Path: path, Message: fmt.Sprintf("unknown parameter type %q", p.Type)}
		}
		if p.Validate != "" {
			re, err := regexp.Compile("^(?:" + p.Validate + ")$")
			if err != nil {
				return nil, &rule.ValidationError{Path: path, Message: fmt.Sprintf("invalid validate pattern: %v", err)}
			}
			t.validates[p.Name] = re
		}
		if p.Default != nil {
			if err := checkParamType(p.Type, p.Default); err != nil {
				return nil, &rule.ValidationError{Path: path, Message: fmt.Sprintf("default: %v", err)}
			}
		}
		t.params[p.Name] = p
	}

	var tree any
	if err := json.Unmarshal(t.Blueprint, &tree); err != nil {
		return nil, &rule.ValidationError{Path: "template.blueprint", Message: err.Error()}
	}
	var undeclared []string
	seen := map[string]bool{}
	collectRefs(tree, func(name string) {
		if _, ok := t.params[name]; !ok && !seen[name] {
			seen[name] = true
			undeclared = append(undeclared, name)
		}
	})
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, &rule.ValidationError{
			Path:    "template.blueprint",
			Message: fmt.Sprintf("undeclared parameters referenced: %v", undeclared),
		}
	}
	return &t, nil
}

// Instantiate fills the blueprint with parameter values and returns the
// resulting rule input, validated exactly as a directly-authored rule.
func (t *Template) Instantiate(given map[string]any) (rule.Input, error) {
	vals := make(map[string]any, len(t.params))
	for name, p := range t.params {
		v, supplied := given[name]
		if !supplied {
			if p.Default == nil {
				return rule.Input{}, &rule.ValidationError{
					Path:    "template." + t.TemplateID,
					Message: fmt.Sprintf("missing parameter %q", name),
				}
			}
			v = p.Default
		}
		if err := checkParamType(p.Type, v); err != nil {
			return rule.Input{}, &rule.ValidationError{
				Path:    fmt.Sprintf("template.%s.%s", t.TemplateID, name),
				Message: err.Error(),
			}
		}
		if re, ok := t.validates[name]; ok {
			if s, isStr := v.(string); isStr && !re.MatchString(s) {
				return rule.Input{}, &rule.ValidationError{
					Path:    fmt.Sprintf("template.%s.%s", t.TemplateID, name),
					Message: fmt.Sprintf("value %q does not match %q", s, t.params[name].Validate),
				}
			}
		}
		vals[name] = v
	}
	for name := range given {
		if _, ok := t.params[name]; !ok {
			return rule.Input{}, &rule.ValidationError{
				Path:    "template." + t.TemplateID,
				Message: fmt.Sprintf("undeclared parameter %q supplied", name),
			}
		}
	}

	var tree any
	if err := json.Unmarshal(t.Blueprint, &tree); err != nil {
		return rule.Input{}, &rule.ValidationError{Path: "template.blueprint", Message: err.Error()}
	}
	filled := substitute(tree, vals)
	raw, err := json.Marshal(filled)
	if err != nil {
		return rule.Input{}, &rule.ValidationError{Path: "template.blueprint", Message: err.Error()}
	}
	return decodeRule(raw, "template."+t.TemplateID)
}

// collectRefs walks a blueprint tree reporting every placeholder name in
// string values and map keys.
func collectRefs(node any, report func(name string)) {
	switch n := node.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(n, -1) {
			report(m[1])
		}
	case map[string]any:
		for k, v := range n {
			for _, m := range placeholderRe.FindAllStringSubmatch(k, -1) {
				report(m[1])
			}
			collectRefs(v, report)
		}
	case []any:
		for _, v := range n {
			collectRefs(v, report)
		}
	}
}

// substitute replaces placeholders throughout the tree. A string that is
// exactly one placeholder becomes the parameter's typed value; any other
// string with placeholders interpolates them.
func substitute(node any, vals map[string]any) any {
	switch n := node.(type) {
	case string:
		return substituteString(n, vals)
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			key := k
			if sub, ok := substituteString(k, vals).(string); ok {
				key = sub
			}
			out[key] = substitute(v, vals)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = substitute(v, vals)
		}
		return out
	default:
		return node
	}
}

func substituteString(s string, vals map[string]any) any {
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		return vals[m[1]]
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(ph string) string {
		name := placeholderRe.FindStringSubmatch(ph)[1]
		return value.ToString(vals[name])
	})
}

func checkParamType(pt ParamType, v any) error {
	switch pt {
	case ParamAny:
		return nil
	case ParamString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case ParamNumber:
		if _, ok := value.ToFloatStrict(v); !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
	case ParamBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case ParamObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
	case ParamArray:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
	}
	return nil
}
