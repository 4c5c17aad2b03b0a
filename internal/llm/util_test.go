package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "fenced with language",
			input: "```json\n{\"classifications\": []}\n```",
			want:  `{"classifications": []}`,
		},
		{
			name:  "fenced without language",
			input: "```\n[{\"index\": 0, \"key\": \"email\"}]\n```",
			want:  `[{"index": 0, "key": "email"}]`,
		},
		{
			name:  "preamble and trailing note",
			input: "Here are the fields I could map:\n{\"classifications\": [{\"index\": 2, \"key\": \"phone\"}]}\nLet me know if you need more.",
			want:  `{"classifications": [{"index": 2, "key": "phone"}]}`,
		},
		{
			name:  "braces inside strings",
			input: `{"answer": "I enjoy {curly} problems and [lists]", "confidence": 0.8} extra`,
			want:  `{"answer": "I enjoy {curly} problems and [lists]", "confidence": 0.8}`,
		},
		{
			name:  "escaped quote inside string",
			input: `{"answer": "She said \"hi }\""}`,
			want:  `{"answer": "She said \"hi }\""}`,
		},
		{
			name:  "nested objects",
			input: `ok {"a": {"b": {"c": 1}}, "d": [1, {"e": 2}]} done`,
			want:  `{"a": {"b": {"c": 1}}, "d": [1, {"e": 2}]}`,
		},
		{
			name:  "no JSON",
			input: "  I cannot help with that.  ",
			want:  "I cannot help with that.",
		},
		{
			name:  "unbalanced is returned trimmed",
			input: `{"classifications": [`,
			want:  `{"classifications": [`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractBalanced(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSONObject(`{"a": 1} {"b": 2}`))
	assert.Equal(t, `[1, [2, 3]]`, extractJSONArray(`[1, [2, 3]], 4]`))
	assert.Empty(t, extractJSONObject(`[1]`))
	assert.Empty(t, extractJSONArray(""))
	assert.Empty(t, extractJSONObject(`{"open": true`))
}
