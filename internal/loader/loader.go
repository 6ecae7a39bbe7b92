// Package loader parses rule documents from JSON and YAML, expands
// templates, and validates the result against the embedded CUE schema
// before anything reaches the registry.
//
// YAML documents are normalized to JSON first, so both formats share one
// strict decoding path: unknown fields are rejected everywhere.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tidefall/reflex/internal/rule"
)

// Format selects the document syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// Document is a parsed rule file: direct rules in declaration order plus
// any templates it defines. Template instantiations inside the document
// are already expanded into Rules.
type Document struct {
	Rules     []rule.Input
	Templates []*Template
}

// Parse decodes a document in the given format. Accepted top-level
// shapes:
//
//   - a single rule object
//   - a sequence of rules
//   - { "rules": [...], "templates": [...] } (either key optional)
//   - { "template": {...} } declaring one template
//
// Entries in a rules sequence may be rule objects or template
// instantiations { "template": "<templateId>", "parameters": {...} },
// resolved against templates declared earlier in the same document.
func Parse(data []byte, format Format) (*Document, error) {
	raw, err := normalize(data, format)
	if err != nil {
		return nil, err
	}
	return parseRaw(raw, nil)
}

// parseRaw parses normalized JSON. Template instantiations resolve
// against the document itself, then against scope.
func parseRaw(raw json.RawMessage, scope *Document) (*Document, error) {
	switch sniff(raw) {
	case '[':
		return parseSequence(raw, scope)
	case '{':
		return parseObject(raw, scope)
	default:
		return nil, &rule.ValidationError{Message: "document must be a rule object, a sequence, or a rules collection"}
	}
}

// normalize converts the input to JSON bytes.
func normalize(data []byte, format Format) (json.RawMessage, error) {
	if format == FormatJSON {
		return json.RawMessage(data), nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &rule.ValidationError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &rule.ValidationError{Message: fmt.Sprintf("YAML does not map to JSON: %v", err)}
	}
	return raw, nil
}

// sniff returns the first non-whitespace byte, or 0.
func sniff(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

func parseSequence(raw json.RawMessage, scope *Document) (*Document, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &rule.ValidationError{Message: fmt.Sprintf("invalid rule sequence: %v", err)}
	}
	doc := &Document{}
	for i, item := range items {
		if err := doc.addEntry(item, fmt.Sprintf("[%d]", i), scope); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func parseObject(raw json.RawMessage, scope *Document) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &rule.ValidationError{Message: fmt.Sprintf("invalid document: %v", err)}
	}

	// { "template": {...} } declares a single template.
	if tmplRaw, ok := probe["template"]; ok && len(probe) == 1 && sniff(tmplRaw) == '{' {
		tmpl, err := ParseTemplate(tmplRaw)
		if err != nil {
			return nil, err
		}
		return &Document{Templates: []*Template{tmpl}}, nil
	}

	_, hasRules := probe["rules"]
	_, hasTemplates := probe["templates"]
	if !hasRules && !hasTemplates {
		// Single rule object.
		in, err := decodeRule(raw, "")
		if err != nil {
			return nil, err
		}
		return &Document{Rules: []rule.Input{in}}, nil
	}

	var collection struct {
		Templates []json.RawMessage `json:"templates"`
		Rules     []json.RawMessage `json:"rules"`
	}
	if err := decodeStrict(raw, &collection); err != nil {
		return nil, &rule.ValidationError{Message: fmt.Sprintf("invalid rules collection: %v", err)}
	}

	doc := &Document{}
	for i, tmplRaw := range collection.Templates {
		tmpl, err := ParseTemplate(tmplRaw)
		if err != nil {
			return nil, fmt.Errorf("templates[%d]: %w", i, err)
		}
		doc.Templates = append(doc.Templates, tmpl)
	}
	for i, item := range collection.Rules {
		if err := doc.addEntry(item, fmt.Sprintf("rules[%d]", i), scope); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// addEntry appends either a direct rule or a template instantiation.
func (d *Document) addEntry(raw json.RawMessage, path string, scope *Document) error {
	var probe struct {
		Template json.RawMessage `json:"template"`
	}
	_ = json.Unmarshal(raw, &probe)

	if len(probe.Template) > 0 && sniff(probe.Template) == '"' {
		var inst instantiation
		if err := decodeStrict(raw, &inst); err != nil {
			return &rule.ValidationError{Path: path, Message: fmt.Sprintf("invalid template instantiation: %v", err)}
		}
		tmpl := d.findTemplate(inst.Template)
		if tmpl == nil && scope != nil {
			tmpl = scope.findTemplate(inst.Template)
		}
		if tmpl == nil {
			return &rule.ValidationError{Path: path, Message: fmt.Sprintf("unknown template %q", inst.Template)}
		}
		in, err := tmpl.Instantiate(inst.Parameters)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		d.Rules = append(d.Rules, in)
		return nil
	}

	in, err := decodeRule(raw, path)
	if err != nil {
		return err
	}
	d.Rules = append(d.Rules, in)
	return nil
}

func (d *Document) findTemplate(id string) *Template {
	for _, t := range d.Templates {
		if t.TemplateID == id {
			return t
		}
	}
	return nil
}

// instantiation is a rules-sequence entry referencing a template.
type instantiation struct {
	Template   string         `json:"template"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// decodeRule strictly decodes a rule object and validates it against the
// CUE schema and the structural validator.
func decodeRule(raw json.RawMessage, path string) (rule.Input, error) {
	if err := ValidateSchema(raw); err != nil {
		if path != "" {
			return rule.Input{}, fmt.Errorf("%s: %w", path, err)
		}
		return rule.Input{}, err
	}
	var in rule.Input
	if err := decodeStrict(raw, &in); err != nil {
		return rule.Input{}, &rule.ValidationError{Path: path, Message: fmt.Sprintf("invalid rule: %v", err)}
	}
	if err := in.Validate(); err != nil {
		if path != "" {
			return rule.Input{}, fmt.Errorf("%s: %w", path, err)
		}
		return rule.Input{}, err
	}
	return in, nil
}

// decodeStrict unmarshals JSON rejecting unknown fields and trailing
// garbage.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
