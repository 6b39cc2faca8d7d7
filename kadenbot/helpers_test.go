package kadenbot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShapeReply(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "shorter than limit",
			input:    "short string",
			limit:    2000,
			expected: "short string",
		},
		{
			name:     "exactly at limit",
			input:    strings.Repeat("a", 2000),
			limit:    2000,
			expected: strings.Repeat("a", 2000),
		},
		{
			name:     "one over limit",
			input:    strings.Repeat("a", 2001),
			limit:    2000,
			expected: strings.Repeat("a", 2000-len(TruncationSuffix)) + TruncationSuffix,
		},
		{
			name:     "empty string",
			input:    "",
			limit:    2000,
			expected: "",
		},
		{
			name:     "limit smaller than suffix",
			input:    "abcdefghij",
			limit:    5,
			expected: "abcde",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				rv := shapeReply(tc.input, tc.limit)
				assert.Equal(t, tc.expected, rv)
				assert.LessOrEqual(t, len([]rune(rv)), tc.limit)
			},
		)
	}
}

func TestShapeReplyExactLength(t *testing.T) {
	t.Parallel()
	rv := shapeReply(strings.Repeat("x", 2500), discordMaxMessageLength)
	assert.Equal(t, discordMaxMessageLength, len([]rune(rv)))
	assert.Equal(t, TruncationSuffix, rv[len(rv)-len(TruncationSuffix):])
}

func TestShapeReplyMultibyte(t *testing.T) {
	t.Parallel()
	input := strings.Repeat("日", 2100)
	rv := shapeReply(input, discordMaxMessageLength)
	assert.Equal(t, discordMaxMessageLength, len([]rune(rv)))
	assert.True(t, strings.HasSuffix(rv, TruncationSuffix))
}
