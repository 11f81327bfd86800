package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFencedJSONBlock(t *testing.T) {
	text := "Here is the analysis:\n```json\n{\"type\": \"static\", \"name\": \"demo\"}\n```\nDone."
	obj, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "static", obj["type"])
}

func TestExtractJSONGenericFence(t *testing.T) {
	text := "```\n{\"type\": \"api\"}\n```"
	obj, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "api", obj["type"])
}

func TestExtractJSONBraceSubstring(t *testing.T) {
	text := "The result is {\"features\": [\"a\", \"b\"]} as requested."
	obj, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Len(t, obj["features"], 2)
}

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	// The brace fallback would grab the prose braces; the fence wins.
	text := "Note {this} first.\n```json\n{\"ok\": true}\n```"
	obj, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, true, obj["ok"])
}

func TestExtractJSONFailure(t *testing.T) {
	_, err := ExtractJSON("no json here at all")
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))

	_, err = ExtractJSON("broken { not json }")
	assert.Error(t, err)
}
