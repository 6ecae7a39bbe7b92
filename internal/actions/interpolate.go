package actions

import (
	"strings"

	"github.com/tidefall/reflex/internal/conditions"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/value"
)

// Interpolate substitutes ${path} references in a string position with
// values looked up from the evaluation context. A literal dollar sign is
// written as $$. Unresolvable paths substitute the empty string.
func Interpolate(s string, ctx *conditions.Context) string {
	if !strings.ContainsRune(s, '$') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		// "$$" escapes a literal dollar.
		if i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i += 2
			continue
		}
		// "${path}"
		if i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				path := s[i+2 : i+2+end]
				if v, ok := ctx.Lookup(path); ok {
					b.WriteString(value.ToString(v))
				}
				i += end + 3
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// resolveTree deep-substitutes a structured payload: {"ref": path}
// objects are replaced by the referenced subtree, strings that are a
// whole "${path}" reference resolve to the referenced value (preserving
// type), and other strings interpolate textually.
func resolveTree(v any, ctx *conditions.Context) any {
	switch node := v.(type) {
	case map[string]any:
		if len(node) == 1 {
			if ref, ok := node["ref"].(string); ok {
				resolved, _ := ctx.Lookup(ref)
				return resolved
			}
		}
		out := make(map[string]any, len(node))
		for k, elem := range node {
			out[Interpolate(k, ctx)] = resolveTree(elem, ctx)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, elem := range node {
			out[i] = resolveTree(elem, ctx)
		}
		return out
	case string:
		if path, isRef := rule.RefShorthand(node); isRef {
			resolved, _ := ctx.Lookup(path)
			return resolved
		}
		return Interpolate(node, ctx)
	default:
		return v
	}
}

// resolveRuleValue resolves a rule.Value payload: refs resolve whole
// subtrees from the context; literals deep-substitute embedded refs and
// interpolations.
func resolveRuleValue(v *rule.Value, ctx *conditions.Context) any {
	if v == nil {
		return nil
	}
	if v.IsRef {
		resolved, _ := ctx.Lookup(v.Ref)
		return resolved
	}
	return resolveTree(v.Literal, ctx)
}
