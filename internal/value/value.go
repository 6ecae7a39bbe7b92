package value

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup resolves a dot-delimited path against a dynamic value tree.
//
// Path segments index into map[string]any by key and into []any by decimal
// index. The boolean result distinguishes "present but nil" from "absent":
// operators such as exists/not_exists inspect presence, not truthiness.
//
// An empty path returns the root itself.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for seg := range strings.SplitSeq(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ToFloat coerces a dynamic value to float64 for numeric comparison.
//
// Accepted inputs: all Go integer and float kinds, json.Number, and strings
// that parse as floats. Everything else reports false.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToString renders a dynamic value for interpolation into a string position.
// Maps and slices render as compact JSON; nil renders as the empty string.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case json.Number:
		return s.String()
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Equal compares two dynamic values.
//
// Numbers compare numerically across representations (int 100 equals
// float64 100.0 equals json.Number "100"). Maps and slices compare deeply.
// Two nils are equal.
func Equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if fa, aok := ToFloatStrict(a); aok {
		if fb, bok := ToFloatStrict(b); bok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !Equal(v, w) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// ToFloatStrict is ToFloat without the string fallback.
// Used by Equal so that "100" does not compare equal to 100.
func ToFloatStrict(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return ToFloat(v)
}

// Contains reports whether container holds item.
//
// Strings check substring containment; slices check element membership
// (via Equal); maps check key presence when item is a string.
func Contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, elem := range c {
			if Equal(elem, item) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}
		_, present := c[key]
		return present
	default:
		return false
	}
}

// Normalize converts a value into the canonical dynamic form produced by
// encoding/json: map[string]any, []any, string, float64, bool, nil.
// Structured inputs of other types round-trip through JSON.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
