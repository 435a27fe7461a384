package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFromMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "fenced json block",
			input: "```json\n{\"next_task\":\"do X\"}\n```",
			want:  `{"next_task":"do X"}`,
		},
		{
			name:  "fenced without language",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "raw json",
			input: `{"success": true, "critique": ""}`,
			want:  `{"success": true, "critique": ""}`,
		},
		{
			name:  "json with surrounding prose",
			input: "Here is the result:\n{\"a\": {\"b\": 2}}\nHope that helps.",
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:  "braces inside strings",
			input: `answer: {"msg": "use {x} here"} done`,
			want:  `{"msg": "use {x} here"}`,
		},
		{
			name:  "array payload",
			input: "result: [1, 2, 3]",
			want:  `[1, 2, 3]`,
		},
		{
			name:  "no json",
			input: "nothing to see here",
			want:  "",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONFromMarkdown(tt.input))
		})
	}
}

func TestFixAndParse(t *testing.T) {
	var out map[string]any

	err := FixAndParse("```json\n{\"next_task\":\"do X\"}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "do X", out["next_task"])

	out = nil
	err = FixAndParse(`{"a": 1, "b": 2,}`, &out)
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["b"])

	out = nil
	err = FixAndParse(`{success: true, critique: "looks fine"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "looks fine", out["critique"])

	err = FixAndParse("no json at all", &out)
	assert.Error(t, err)

	err = FixAndParse(`{"unterminated": `, &out)
	assert.Error(t, err)
}

func TestFixAndParseTypedTarget(t *testing.T) {
	var verdict struct {
		Success  bool   `json:"success"`
		Critique string `json:"critique"`
	}
	err := FixAndParse("```json\n{\"success\": false, \"critique\": \"missing output\"}\n```", &verdict)
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, "missing output", verdict.Critique)
}
