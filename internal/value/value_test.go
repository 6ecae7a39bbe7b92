package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_NestedPath(t *testing.T) {
	root := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"sku": "a-1"},
				map[string]any{"sku": "a-2"},
			},
			"total": 42.5,
		},
	}

	v, ok := Lookup(root, "data.total")
	require.True(t, ok)
	assert.Equal(t, 42.5, v)

	v, ok = Lookup(root, "data.items.1.sku")
	require.True(t, ok)
	assert.Equal(t, "a-2", v)
}

func TestLookup_AbsentVsNil(t *testing.T) {
	root := map[string]any{"present": nil}

	v, ok := Lookup(root, "present")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = Lookup(root, "absent")
	assert.False(t, ok)

	_, ok = Lookup(root, "present.deeper")
	assert.False(t, ok)
}

func TestLookup_EmptyPathReturnsRoot(t *testing.T) {
	root := map[string]any{"k": 1}
	v, ok := Lookup(root, "")
	require.True(t, ok)
	assert.Equal(t, root, v)
}

func TestLookup_SliceIndexOutOfRange(t *testing.T) {
	root := map[string]any{"xs": []any{"a"}}
	_, ok := Lookup(root, "xs.1")
	assert.False(t, ok)
	_, ok = Lookup(root, "xs.-1")
	assert.False(t, ok)
	_, ok = Lookup(root, "xs.nope")
	assert.False(t, ok)
}

func TestToFloat_Coercions(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(1.5), 1.5, true},
		{int(3), 3, true},
		{int64(-7), -7, true},
		{uint32(9), 9, true},
		{json.Number("100"), 100, true},
		{"2.25", 2.25, true},
		{"not a number", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := ToFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %v", tc.in)
		}
	}
}

func TestToFloatStrict_RejectsStrings(t *testing.T) {
	_, ok := ToFloatStrict("100")
	assert.False(t, ok)
	got, ok := ToFloatStrict(100)
	require.True(t, ok)
	assert.Equal(t, 100.0, got)
}

func TestEqual_NumericAcrossRepresentations(t *testing.T) {
	assert.True(t, Equal(100, 100.0))
	assert.True(t, Equal(int64(100), json.Number("100")))
	assert.False(t, Equal(100, "100"), "string never equals number")
	assert.False(t, Equal(100, 101))
}

func TestEqual_DeepStructures(t *testing.T) {
	a := map[string]any{"xs": []any{1, 2.0, "three"}, "n": nil}
	b := map[string]any{"xs": []any{1.0, 2, "three"}, "n": nil}
	assert.True(t, Equal(a, b))

	assert.False(t, Equal(a, map[string]any{"xs": []any{1, 2}, "n": nil}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, "x"))
}

func TestContains_Variants(t *testing.T) {
	assert.True(t, Contains("hello world", "lo wo"))
	assert.False(t, Contains("hello", "z"))
	assert.True(t, Contains([]any{1, 2, 3}, 2.0))
	assert.False(t, Contains([]any{1, 2, 3}, 4))
	assert.True(t, Contains(map[string]any{"k": 1}, "k"))
	assert.False(t, Contains(map[string]any{"k": 1}, "missing"))
	assert.False(t, Contains(42, 4))
}

func TestToString_Rendering(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "hi", ToString("hi"))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "100", ToString(float64(100)))
	assert.Equal(t, `{"k":1}`, ToString(map[string]any{"k": 1}))
	assert.Equal(t, `[1,2]`, ToString([]any{1, 2}))
}

func TestNormalize_RoundTripsStructs(t *testing.T) {
	type payload struct {
		N int    `json:"n"`
		S string `json:"s"`
	}
	got, err := Normalize(payload{N: 1, S: "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1.0, "s": "x"}, got)

	got, err = Normalize("already canonical")
	require.NoError(t, err)
	assert.Equal(t, "already canonical", got)
}
