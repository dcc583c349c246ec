package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVParserTypedRecords(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	raw := "a,b\n1,2\n3,4\n"
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, res.Format)
	assert.True(t, res.Structured)

	assert.Equal(t, []string{"records", "schema", "row_count", "column_count"}, docKeys(res.Normalized))
	assert.Equal(t, 2, docGet(t, res.Normalized, "row_count"))
	assert.Equal(t, 2, docGet(t, res.Normalized, "column_count"))

	schema, ok := docGet(t, res.Normalized, "schema").(*Document)
	require.True(t, ok)
	assert.Equal(t, "int", docGet(t, schema, "a"))
	assert.Equal(t, "int", docGet(t, schema, "b"))

	records, ok := docGet(t, res.Normalized, "records").([]any)
	require.True(t, ok)
	require.Len(t, records, 2)

	first, ok := records[0].(*Document)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, docKeys(first))
	assert.Equal(t, 1, docGet(t, first, "a"))
	assert.Equal(t, 2, docGet(t, first, "b"))

	second := records[1].(*Document)
	assert.Equal(t, 3, docGet(t, second, "a"))
	assert.Equal(t, 4, docGet(t, second, "b"))

	assert.Equal(t, true, res.Metadata["has_header"])
	assert.Equal(t, ",", res.Metadata["delimiter"])
	assert.Equal(t, []string{"a", "b"}, res.Metadata["columns"])
}

func TestCSVParserTabDelimited(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	raw := "name\tage\nbob\t31\nsue\t29\n"
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "\t", res.Metadata["delimiter"])

	schema := docGet(t, res.Normalized, "schema").(*Document)
	assert.Equal(t, "string", docGet(t, schema, "name"))
	assert.Equal(t, "int", docGet(t, schema, "age"))
}

func TestCSVParserColumnConsistency(t *testing.T) {
	t.Parallel()

	// 7 of 10 rows share the modal column count, exactly at the 70%
	// acceptance threshold.
	accepted := strings.Join([]string{
		"h1,h2,h3", "1,2,3", "4,5,6", "7,8,9", "10,11,12", "13,14,15", "16,17,18",
		"x,y", "z,w", "v,u",
	}, "\n")
	// 6 of 10 rows puts the sample below the threshold.
	rejected := strings.Join([]string{
		"h1,h2,h3", "1,2,3", "4,5,6", "7,8,9", "10,11,12", "13,14,15",
		"x,y", "z,w", "v,u", "t,s",
	}, "\n")

	p := &CSVParser{}
	assert.True(t, p.CanParse(accepted, ""))
	assert.False(t, p.CanParse(rejected, ""))
}

func TestCSVParserRejectsOtherFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "code", raw: "def load(x),y\n1,2\n"},
		{name: "markdown heading", raw: "# Title,notes\n1,2\n"},
		{name: "indented keys", raw: "  key: value,x\n  other: y,z\n"},
		{name: "single line", raw: "a,b"},
		{name: "single column", raw: "a\n1\n2\n"},
		{name: "no delimiters", raw: "hello world\ngoodbye world\n"},
	}

	p := &CSVParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.False(t, p.CanParse(tt.raw, ""))
		})
	}
}

func TestCSVParserGeneratesColumnNames(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	res, err := p.Parse("1,2\n3,4\n")
	require.NoError(t, err)

	assert.Equal(t, false, res.Metadata["has_header"])
	assert.Equal(t, []string{"col_0", "col_1"}, res.Metadata["columns"])
	assert.Equal(t, 2, docGet(t, res.Normalized, "row_count"))

	records := docGet(t, res.Normalized, "records").([]any)
	first := records[0].(*Document)
	assert.Equal(t, 1, docGet(t, first, "col_0"))
}

func TestCSVParserBoolsAndEmptyCells(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	res, err := p.Parse("flag,score\nyes,\nno,3.5\n")
	require.NoError(t, err)

	schema := docGet(t, res.Normalized, "schema").(*Document)
	assert.Equal(t, "bool", docGet(t, schema, "flag"))
	assert.Equal(t, "float", docGet(t, schema, "score"))

	records := docGet(t, res.Normalized, "records").([]any)
	require.Len(t, records, 2)

	first := records[0].(*Document)
	assert.Equal(t, true, docGet(t, first, "flag"))
	assert.Nil(t, docGet(t, first, "score"))

	second := records[1].(*Document)
	assert.Equal(t, false, docGet(t, second, "flag"))
	assert.Equal(t, 3.5, docGet(t, second, "score"))
}

func TestCSVParserQuotedFields(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	res, err := p.Parse("name,notes\n\"smith, bob\",ok\n")
	require.NoError(t, err)

	records := docGet(t, res.Normalized, "records").([]any)
	require.Len(t, records, 1)
	first := records[0].(*Document)
	assert.Equal(t, "smith, bob", docGet(t, first, "name"))
	assert.Equal(t, "ok", docGet(t, first, "notes"))
}

func TestCSVParserDropsRaggedRows(t *testing.T) {
	t.Parallel()

	p := &CSVParser{}
	res, err := p.Parse("a,b\n1,2\nonly-one\n3,4\n")
	require.NoError(t, err)

	// The row that disagrees with the header width is dropped.
	assert.Equal(t, 2, docGet(t, res.Normalized, "row_count"))
}
