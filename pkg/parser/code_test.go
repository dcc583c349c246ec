package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeParserPython(t *testing.T) {
	t.Parallel()

	raw := "import os, sys\n" +
		"from pathlib import Path\n" +
		"\n" +
		"@app.route\n" +
		"def handler(req) -> str:\n" +
		"    return req\n" +
		"\n" +
		"class Service(Base):\n" +
		"    pass\n"

	p := &CodeParser{}
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatCode, res.Format)
	assert.False(t, res.Structured)
	assert.Equal(t, "python", docGet(t, res.Normalized, "language"))

	structure := docGet(t, res.Normalized, "structure").(*Document)

	functions := docGet(t, structure, "functions").([]any)
	require.Len(t, functions, 1)
	fn := functions[0].(*Document)
	assert.Equal(t, "handler", docGet(t, fn, "name"))
	assert.Equal(t, "req", docGet(t, fn, "params"))
	assert.Equal(t, "str", docGet(t, fn, "return_type"))

	classes := docGet(t, structure, "classes").([]any)
	require.Len(t, classes, 1)
	cl := classes[0].(*Document)
	assert.Equal(t, "Service", docGet(t, cl, "name"))
	assert.Equal(t, "Base", docGet(t, cl, "bases"))

	assert.Equal(t, []string{"os", "sys", "pathlib"}, docGet(t, structure, "imports"))
	assert.Equal(t, []string{"app.route"}, docGet(t, structure, "decorators"))
}

func TestCodeParserJavaScript(t *testing.T) {
	t.Parallel()

	raw := "import { api } from \"./api\"\n" +
		"\n" +
		"const load = async (id) => {\n" +
		"  return api.get(id)\n" +
		"}\n" +
		"\n" +
		"function render(data) {}\n" +
		"\n" +
		"class View extends Base {}\n" +
		"\n" +
		"export const VERSION = \"1\"\n"

	p := &CodeParser{}
	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "javascript", docGet(t, res.Normalized, "language"))

	structure := docGet(t, res.Normalized, "structure").(*Document)

	functions := docGet(t, structure, "functions").([]any)
	require.Len(t, functions, 2)
	assert.Equal(t, "render", docGet(t, functions[0].(*Document), "name"))
	assert.Equal(t, "function", docGet(t, functions[0].(*Document), "type"))
	assert.Equal(t, "load", docGet(t, functions[1].(*Document), "name"))
	assert.Equal(t, "arrow", docGet(t, functions[1].(*Document), "type"))

	classes := docGet(t, structure, "classes").([]any)
	require.Len(t, classes, 1)
	assert.Equal(t, "View", docGet(t, classes[0].(*Document), "name"))
	assert.Equal(t, "Base", docGet(t, classes[0].(*Document), "extends"))

	assert.Equal(t, []string{"./api"}, docGet(t, structure, "imports"))
	assert.Equal(t, []string{"VERSION"}, docGet(t, structure, "exports"))
}

func TestCodeParserTypeScript(t *testing.T) {
	t.Parallel()

	raw := "interface User {\n  id: number\n}\n\nconst get = (id: number) => fetch(id)\n"

	p := &CodeParser{}
	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "typescript", docGet(t, res.Normalized, "language"))
}

func TestCodeParserGenericFallback(t *testing.T) {
	t.Parallel()

	raw := "@configure\nx = 1\n# setup\n"

	p := &CodeParser{}
	require.True(t, p.CanParse(raw, ""))

	res, err := p.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "unknown", docGet(t, res.Normalized, "language"))

	structure := docGet(t, res.Normalized, "structure").(*Document)
	assert.Equal(t, 4, docGet(t, structure, "line_count"))
	assert.Equal(t, 3, docGet(t, structure, "non_empty_lines"))
	assert.Equal(t, 1, docGet(t, structure, "comment_lines"))
}

func TestCodeParserCanParse(t *testing.T) {
	t.Parallel()

	p := &CodeParser{}
	assert.True(t, p.CanParse("const x = 1", ""))
	assert.True(t, p.CanParse("plain text", "py"))
	assert.False(t, p.CanParse("plain sentence without markers", ""))
	assert.False(t, p.CanParse(9, ""))
}
