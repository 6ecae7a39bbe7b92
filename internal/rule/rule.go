// Package rule defines the declarative rule model: rules, triggers,
// conditions, and actions as tagged unions with strict JSON codecs.
//
// Rules are data. The JSON shape is the authoring contract: unknown fields
// are rejected, variant tags select the union arm, and string values in
// key/topic/message/arg positions support ${path} interpolation resolved
// at execution time.
package rule

import (
	"time"
)

// Rule is a declarative reaction: when the trigger fires and all
// conditions pass, the actions run in order.
//
// The engine exclusively owns registered rules. External code receives
// snapshots via Clone and must not mutate shared subtrees.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority,omitempty"`
	Enabled     bool        `json:"enabled"`
	Tags        []string    `json:"tags,omitempty"`
	Group       string      `json:"group,omitempty"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action    `json:"actions"`
	CreatedAt   time.Time   `json:"createdAt,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty"`
	Version     int         `json:"version,omitempty"`
}

// Input is the authoring shape accepted by registration: a Rule without
// the engine-assigned metadata. Enabled defaults to true when the field
// is absent from the source document (handled by the loader).
type Input struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Group       string      `json:"group,omitempty"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action    `json:"actions"`
}

// Materialize converts an Input into a Rule with assigned metadata.
func (in Input) Materialize(now time.Time, version int) Rule {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return Rule{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Priority:    in.Priority,
		Enabled:     enabled,
		Tags:        append([]string(nil), in.Tags...),
		Group:       in.Group,
		Trigger:     in.Trigger,
		Conditions:  append([]Condition(nil), in.Conditions...),
		Actions:     append([]Action(nil), in.Actions...),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     version,
	}
}

// Clone returns a shallow-plus-slices copy suitable for handing to
// external readers. Nested action/condition payloads are shared; they are
// treated as immutable after registration.
func (r Rule) Clone() Rule {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Actions = append([]Action(nil), r.Actions...)
	return out
}

// AsInput strips the engine-assigned metadata back off, yielding the
// authoring shape. Used when re-registering persisted rules.
func (r Rule) AsInput() Input {
	enabled := r.Enabled
	return Input{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Enabled:     &enabled,
		Tags:        append([]string(nil), r.Tags...),
		Group:       r.Group,
		Trigger:     r.Trigger,
		Conditions:  append([]Condition(nil), r.Conditions...),
		Actions:     append([]Action(nil), r.Actions...),
	}
}

// HasTag reports whether the rule carries the given tag.
func (r Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
