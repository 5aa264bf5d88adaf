package pipeline

import (
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, 3, utf8.RuneCountInString(truncate("abcdef", 3)))
	// Runes, not bytes.
	assert.Equal(t, "“T…", truncate("“Trip”", 3))
	assert.Equal(t, "…", truncate("abcdef", 1))
	assert.Equal(t, "unbounded", truncate("unbounded", 0))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abc…", clip("abcdef", 3))
	assert.Equal(t, "“Tr…", clip("“Trip”", 3))
}

func TestStringify(t *testing.T) {
	testCases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{true, "true"},
		{false, "false"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{float64(1e21), "1000000000000000000000"},
		{int64(-7), "-7"},
		{json.Number("12.50"), "12.50"},
		{[]any{"a", float64(1)}, `["a",1]`},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, stringify(tc.in))
	}
}
