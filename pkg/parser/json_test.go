package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONParserObjectString(t *testing.T) {
	t.Parallel()

	p := &JSONParser{}
	raw := `{"style": "PEP 8", "max_line_length": 100}`
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, res.Format)
	assert.True(t, res.Structured)
	assert.Equal(t, []string{"style", "max_line_length"}, docKeys(res.Normalized))
	assert.Equal(t, "PEP 8", docGet(t, res.Normalized, "style"))
	assert.EqualValues(t, 100, docGet(t, res.Normalized, "max_line_length"))
}

func TestJSONParserDocumentPassthrough(t *testing.T) {
	t.Parallel()

	v, err := Decode(json.RawMessage(`{"a": 1}`))
	require.NoError(t, err)
	doc := v.(*Document)

	p := &JSONParser{}
	require.True(t, p.CanParse(doc, ""))

	res, err := p.Parse(doc)
	require.NoError(t, err)
	assert.Same(t, doc, res.Normalized)
}

func TestJSONParserPlainMap(t *testing.T) {
	t.Parallel()

	p := &JSONParser{}
	raw := map[string]any{"style": "PEP 8", "max_line_length": 100}
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, res.Format)
	// Map keys come out sorted.
	assert.Equal(t, []string{"max_line_length", "style"}, docKeys(res.Normalized))
	assert.Equal(t, "PEP 8", docGet(t, res.Normalized, "style"))
}

func TestJSONParserRejectsNonObjects(t *testing.T) {
	t.Parallel()

	p := &JSONParser{}
	assert.False(t, p.CanParse(`[1, 2, 3]`, ""))
	assert.False(t, p.CanParse(`42`, ""))
	assert.False(t, p.CanParse(`not json`, ""))
	assert.False(t, p.CanParse(12.5, ""))
}
