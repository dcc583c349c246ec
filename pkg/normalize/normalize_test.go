package normalize

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/golden"

	"github.com/contexhq/contex/pkg/parser"
)

func TestNormalizeDetectsFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        any
		hint       string
		wantFormat string
		structured bool
	}{
		{name: "json object", raw: `{"a": 1, "b": 2}`, wantFormat: "json", structured: true},
		{name: "yaml mapping", raw: "title: Notes\nversion: 2\n", wantFormat: "yaml", structured: true},
		{name: "markdown", raw: "# Title\n\nBody.\n", wantFormat: "markdown", structured: false},
		{name: "hint rescues single-key yaml", raw: "key: value", hint: "yaml", wantFormat: "yaml", structured: true},
		{name: "prose fallback", raw: "nothing structured here", wantFormat: "text", structured: false},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			norm, err := n.Normalize(tt.raw, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, norm.Format)
			assert.Equal(t, tt.structured, norm.Structured)
		})
	}
}

func TestEmbeddingTextGolden(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dataKey string
		raw     string
	}{
		{dataKey: "coding_standards", raw: `{"style": "PEP 8", "max_line_length": 100}`},
		{dataKey: "review_policy", raw: `{"languages": ["go", "python"], "strict": true}`},
		{dataKey: "infra.db", raw: `{"host": "localhost", "port": 5432}`},
		{dataKey: "table", raw: "a,b\n1,2\n3,4\n"},
	}

	n := New()
	var out strings.Builder
	for _, c := range cases {
		norm, err := n.Normalize(c.raw, "")
		require.NoError(t, err)
		fmt.Fprintf(&out, "%s => %s\n", c.dataKey, norm.EmbeddingText(c.dataKey))
	}
	golden.Assert(t, out.String(), "embedding_text.golden")
}

func TestEmbeddingTextUnstructured(t *testing.T) {
	t.Parallel()

	n := New()
	norm, err := n.Normalize("# Rules\n\nAlways test.", "")
	require.NoError(t, err)
	require.False(t, norm.Structured)

	assert.Equal(t, "docs: # Rules\n\nAlways test.", norm.EmbeddingText("docs"))
}

func TestEmbeddingTextSkipsMetadataKeys(t *testing.T) {
	t.Parallel()

	doc := parser.NewDocument()
	doc.Set("_internal", "hidden")
	doc.Set("schema", "hidden")
	doc.Set("visible", "shown")
	norm := &Normalized{Data: doc, Format: "json", Structured: true}

	assert.Equal(t, "cfg: visible: shown", norm.EmbeddingText("cfg"))
}

func TestEmbeddingTextTruncation(t *testing.T) {
	t.Parallel()

	build := func(valueLen int) *Normalized {
		doc := parser.NewDocument()
		doc.Set("k", strings.Repeat("a", valueLen))
		return &Normalized{Data: doc, Format: "json", Structured: true}
	}

	// "k: " plus 497 characters lands exactly on the 500 limit.
	exact := build(497).EmbeddingText("key")
	assert.Len(t, exact, len("key: ")+500)
	assert.False(t, strings.HasSuffix(exact, "..."))

	// One character more gets cut at 500 and marked.
	over := build(498).EmbeddingText("key")
	assert.Len(t, over, len("key: ")+503)
	assert.True(t, strings.HasSuffix(over, "..."))
}

func TestEmbeddingTextKeyCleaning(t *testing.T) {
	t.Parallel()

	doc := parser.NewDocument()
	doc.Set("x", "y")
	norm := &Normalized{Data: doc, Format: "json", Structured: true}

	tests := []struct {
		name    string
		dataKey string
		want    string
	}{
		{name: "plain key prefixes", dataKey: "standards", want: "standards: x: y"},
		{name: "indexed key moves to suffix", dataKey: "servers[2]", want: "x: y (servers)"},
		{name: "dotted key keeps last segment", dataKey: "app.db.host", want: "x: y (host)"},
		{name: "index after dot", dataKey: "a.b[0]", want: "x: y (b)"},
		{name: "unusable key falls back to prefix", dataKey: "[3]", want: "[3]: x: y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, norm.EmbeddingText(tt.dataKey))
		})
	}
}
