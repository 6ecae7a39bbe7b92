package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"customer:42:tier", "customer:42:tier", true},
		{"customer:*:tier", "customer:42:tier", true},
		{"customer:*:tier", "customer:42:name", false},
		{"customer:*", "customer:42:tier", false, /* single star is one segment */},
		{"customer:**", "customer:42:tier", true},
		{"**", "anything.at:all", true},
		{"**:tier", "customer:42:tier", true},
		{"**:tier", "tier", false, /* ** needs at least one segment */},
		{"a.b", "a:b", true, /* ':' and '.' segment identically */},
		{"a:*:c", "a:b", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchPattern(tc.pattern, tc.key),
			"pattern=%q key=%q", tc.pattern, tc.key)
	}
}

func TestIsPattern(t *testing.T) {
	assert.True(t, IsPattern("orders:*"))
	assert.True(t, IsPattern("**"))
	assert.False(t, IsPattern("orders:high:42"))
	assert.False(t, IsPattern("a.b.c"))
}
