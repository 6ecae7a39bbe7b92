package conditions

import (
	"strings"

	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/value"
)

// FactLookupFunc resolves a fact key or pattern to its current value.
// Pattern lookups resolve to the first match in key order.
type FactLookupFunc func(keyOrPattern string) (any, bool)

// Context is the per-rule-firing evaluation context.
//
// It is built once per firing, never shared across firings, and never
// mutated after construction, except that try_catch pushes an error
// binding into Vars for the duration of its catch block.
type Context struct {
	Event         *events.Event
	FactLookup    FactLookupFunc
	Vars          map[string]any
	CorrelationID string
}

// Child returns a copy with extra bindings layered over Vars. The parent
// context is not modified.
func (c *Context) Child(bindings map[string]any) *Context {
	merged := make(map[string]any, len(c.Vars)+len(bindings))
	for k, v := range c.Vars {
		merged[k] = v
	}
	for k, v := range bindings {
		merged[k] = v
	}
	out := *c
	out.Vars = merged
	return &out
}

// Lookup resolves a context path to a value.
//
// Path roots:
//   - "event": the triggering event envelope ("event.data.total",
//     "event.topic", "event.id", ...)
//   - "fact": the remainder is the fact key verbatim ("fact.orders:high")
//   - "context": the remainder traverses Vars
//   - anything else: the first segment names a Vars binding (temporal
//     aliases, catch bindings) and the remainder traverses into it
//
// The boolean result distinguishes absent from present-but-nil.
func (c *Context) Lookup(path string) (any, bool) {
	root, rest := splitRoot(path)
	switch root {
	case "event":
		if c.Event == nil {
			return nil, false
		}
		return value.Lookup(c.eventView(), rest)
	case "fact":
		if c.FactLookup == nil || rest == "" {
			return nil, false
		}
		return c.FactLookup(rest)
	case "context":
		return value.Lookup(anyMap(c.Vars), rest)
	default:
		if c.Vars == nil {
			return nil, false
		}
		bound, ok := c.Vars[root]
		if !ok {
			return nil, false
		}
		return value.Lookup(bound, rest)
	}
}

func (c *Context) eventView() map[string]any {
	view := map[string]any{
		"id":        c.Event.ID,
		"topic":     c.Event.Topic,
		"timestamp": c.Event.Timestamp,
		"data":      c.Event.Data,
	}
	if c.Event.Source != "" {
		view["source"] = c.Event.Source
	}
	if c.Event.CorrelationID != "" {
		view["correlationId"] = c.Event.CorrelationID
	}
	if c.Event.CausationID != "" {
		view["causationId"] = c.Event.CausationID
	}
	return view
}

func splitRoot(path string) (root, rest string) {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
