package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"urgency": "high"}`,
			want:    `{"urgency": "high"}`,
		},
		{
			name:    "fenced json block",
			content: "Here you go:\n```json\n{\"action\": \"ignore\"}\n```\nAnything else?",
			want:    `{"action": "ignore"}`,
		},
		{
			name:    "fence without language tag",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "object surrounded by prose",
			content: `The classification is {"category": "task"} as requested.`,
			want:    `{"category": "task"}`,
		},
		{
			name:    "no object at all",
			content: "I cannot classify this signal.",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestExtractJSONRepairsModelQuirks(t *testing.T) {
	content := "```json\n" + `{
	"action": "create_task", // the obvious choice
	"confidence": 0.9,
}` + "\n```"

	got := ExtractJSON(content)
	require.NotEmpty(t, got)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Equal(t, "create_task", parsed["action"])
	assert.InDelta(t, 0.9, parsed["confidence"], 1e-9)
}

func TestStripLineCommentKeepsURLs(t *testing.T) {
	line := `  "endpoint": "https://example.com/v1", // base url`
	got := stripLineComment(line)
	assert.Equal(t, `  "endpoint": "https://example.com/v1",`, got)

	noComment := `  "note": "a // b"`
	assert.Equal(t, noComment, stripLineComment(noComment))
}

func TestEstimateUsage(t *testing.T) {
	usage := estimateUsage([]Message{{Role: "user", Content: "12345678"}}, "1234")
	assert.Equal(t, 3, usage.PromptTokens) // (4+8+3)/4
	assert.Equal(t, 1, usage.CompletionTokens)
	assert.Equal(t, 4, usage.TotalTokens)
}
