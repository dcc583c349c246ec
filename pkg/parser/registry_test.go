package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docKeys(doc *Document) []string {
	var keys []string
	for pair := doc.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func docGet(t *testing.T, doc *Document, key string) any {
	t.Helper()
	v, ok := doc.Get(key)
	require.True(t, ok, "missing key %q", key)
	return v
}

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        any
		wantFormat string
		structured bool
	}{
		{
			name:       "json object string",
			raw:        `{"a": 1, "b": 2}`,
			wantFormat: FormatJSON,
			structured: true,
		},
		{
			name:       "yaml mapping",
			raw:        "title: Notes\nversion: 2\n",
			wantFormat: FormatYAML,
			structured: true,
		},
		{
			name:       "toml table",
			raw:        "key = \"value\"\nnum = 7\n",
			wantFormat: FormatTOML,
			structured: true,
		},
		{
			name:       "xml document",
			raw:        "<root><a>1</a></root>",
			wantFormat: FormatXML,
			structured: true,
		},
		{
			name:       "csv table",
			raw:        "a,b\n1,2\n3,4\n",
			wantFormat: FormatCSV,
			structured: true,
		},
		{
			name:       "markdown document",
			raw:        "# Title\n\nSome prose here.\n",
			wantFormat: FormatMarkdown,
			structured: false,
		},
		{
			name:       "python snippet",
			raw:        "def main():\n    pass\n",
			wantFormat: FormatCode,
			structured: false,
		},
		{
			name:       "plain prose falls through",
			raw:        "Just some plain prose. It should fall through. To the text parser.",
			wantFormat: FormatText,
			structured: false,
		},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := reg.Parse(tt.raw, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, res.Format)
			assert.Equal(t, tt.structured, res.Structured)
			require.NotNil(t, res.Normalized)
		})
	}
}

func TestRegistryFormatHint(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	res, err := reg.Parse("no markers here", "markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, res.Format)

	// A hint only forces the first attempt; when that parser fails the
	// dispatch continues down the priority order.
	res, err = reg.Parse("certainly not json", "json")
	require.NoError(t, err)
	assert.Equal(t, FormatText, res.Format)
}

func TestRegistryPriorityOrder(t *testing.T) {
	t.Parallel()

	var names []string
	for _, p := range NewRegistry().Parsers() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{
		FormatJSON, FormatYAML, FormatTOML, FormatXML,
		FormatCSV, FormatMarkdown, FormatCode, FormatText,
	}, names)
}

func TestHintForPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSON, HintForPath("config/deploy.json"))
	assert.Equal(t, FormatYAML, HintForPath("app.YAML"))
	assert.Equal(t, FormatYAML, HintForPath("app.yml"))
	assert.Equal(t, FormatTOML, HintForPath("Cargo.toml"))
	assert.Equal(t, FormatMarkdown, HintForPath("docs/README.md"))
	assert.Equal(t, FormatText, HintForPath("notes.txt"))
	assert.Empty(t, HintForPath("main.go"))
	assert.Empty(t, HintForPath("nofile"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("object preserves key order", func(t *testing.T) {
		t.Parallel()

		v, err := Decode(json.RawMessage(`{"zeta": 1, "alpha": {"inner": true}}`))
		require.NoError(t, err)
		doc, ok := v.(*Document)
		require.True(t, ok)
		assert.Equal(t, []string{"zeta", "alpha"}, docKeys(doc))
	})

	t.Run("scalars", func(t *testing.T) {
		t.Parallel()

		v, err := Decode(json.RawMessage(`"hello"`))
		require.NoError(t, err)
		assert.Equal(t, "hello", v)

		v, err = Decode(json.RawMessage(`42`))
		require.NoError(t, err)
		assert.EqualValues(t, 42, v)

		v, err = Decode(json.RawMessage(`true`))
		require.NoError(t, err)
		assert.Equal(t, true, v)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()

		_, err := Decode(json.RawMessage("  "))
		require.Error(t, err)
	})
}
