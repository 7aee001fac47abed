package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDirectParse(t *testing.T) {
	input := `{"sections": [{"title": "Intro", "focus": "background"}], "count": 1}`

	parsed, err := JSON(input)
	require.NoError(t, err)

	var expected map[string]any
	require.NoError(t, json.Unmarshal([]byte(input), &expected))
	assert.Equal(t, expected, parsed)
}

func TestJSONDirectParseTolerantOfWhitespace(t *testing.T) {
	parsed, err := JSON("\n\t  {\"a\": 1}  \n")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, parsed)
}

func TestJSONFencedBlockWithLanguageTag(t *testing.T) {
	input := "Here is the outline you asked for:\n```json\n{\"sections\": []}\n```\nHope that helps!"

	parsed, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sections": []any{}}, parsed)
}

func TestJSONFencedBlockWithoutLanguageTag(t *testing.T) {
	input := "```\n{\"title\": \"Report\"}\n```"

	parsed, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Report"}, parsed)
}

func TestJSONProseWrapped(t *testing.T) {
	input := `Sure! The plan is {"sections": [{"title": "History", "focus": "origins"}]} as requested.`

	parsed, err := JSON(input)
	require.NoError(t, err)
	sections, ok := parsed["sections"].([]any)
	require.True(t, ok)
	require.Len(t, sections, 1)
}

func TestJSONTrailingCommas(t *testing.T) {
	input := `{"sections": [{"title": "A", "focus": "B",},],}`

	parsed, err := JSON(input)
	require.NoError(t, err)
	sections, ok := parsed["sections"].([]any)
	require.True(t, ok)
	require.Len(t, sections, 1)
}

func TestJSONBareListWrappedAsQueries(t *testing.T) {
	input := `The searches I would run: ["quantum computing", "qubits"]`

	parsed, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"queries": []any{"quantum computing", "qubits"}}, parsed)
}

func TestJSONQuotedStringFallback(t *testing.T) {
	input := `I would research "solar power" and then "wind turbines" in depth.`

	parsed, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"queries": []any{"solar power", "wind turbines"}}, parsed)
}

func TestJSONFailureCarriesSnippet(t *testing.T) {
	input := strings.Repeat("x", 500)

	_, err := JSON(input)
	require.Error(t, err)

	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	assert.Len(t, malformed.Snippet, 200)
}

func TestJSONEmptyInput(t *testing.T) {
	_, err := JSON("   ")
	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}
