package parser

import (
	"errors"
	"regexp"
	"strings"
)

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(def|class|function|const|let|var|import|from)\s`),
	regexp.MustCompile(`(?m)^\s*@\w+`),
	regexp.MustCompile(`=>\s*{`),
	regexp.MustCompile(`(?m)^\s*(public|private|protected)\s`),
}

var codeHints = map[string]bool{
	"code": true, "python": true, "py": true,
	"javascript": true, "js": true, "typescript": true, "ts": true,
}

var (
	pyFuncRe      = regexp.MustCompile(`(?m)^\s*def\s+(\w+)\s*\((.*?)\)(?:\s*->\s*([^:]+))?:`)
	pyClassRe     = regexp.MustCompile(`(?m)^\s*class\s+(\w+)(?:\(([^)]*)\))?:`)
	pyImportRe    = regexp.MustCompile(`(?m)^\s*import\s+(.+)$`)
	pyFromRe      = regexp.MustCompile(`(?m)^\s*from\s+(\S+)\s+import`)
	pyDecoratorRe = regexp.MustCompile(`(?m)^\s*@(\w+(?:\.\w+)*)`)

	jsFuncRe    = regexp.MustCompile(`function\s+(\w+)\s*\((.*?)\)`)
	jsArrowRe   = regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=\s*(?:\([^)]*\)|[^=])*\s*=>`)
	jsClassRe   = regexp.MustCompile(`class\s+(\w+)(?:\s+extends\s+(\w+))?`)
	jsImportRe  = regexp.MustCompile(`import\s+.*?from\s+["']([^"']+)["']`)
	jsRequireRe = regexp.MustCompile(`require\(["']([^"']+)["']\)`)
	jsExportRe  = regexp.MustCompile(`export\s+(?:const|let|var|function|class)\s+(\w+)`)
)

var pythonKeywords = []string{"def ", "class ", "import ", "from ", "elif ", "pass"}
var jsKeywords = []string{"function ", "const ", "let ", "var ", "=>", "interface ", "type "}

// CodeParser extracts structure from source code snippets. Detection is
// keyword based; extraction picks the richer Python or JavaScript paths
// when the language vote allows, and falls back to line statistics.
type CodeParser struct{}

func (*CodeParser) Name() string  { return FormatCode }
func (*CodeParser) Priority() int { return 21 }

func (*CodeParser) CanParse(raw any, hint string) bool {
	if codeHints[hint] {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	for _, p := range codePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func (*CodeParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("code payload must be a string")
	}

	language := detectLanguage(s)

	var structure *Document
	switch language {
	case "python":
		structure = pythonStructure(s)
	case "javascript", "typescript":
		structure = jsStructure(s)
	default:
		structure = genericStructure(s)
	}

	doc := NewDocument()
	doc.Set("content", s)
	doc.Set("content_type", "code")
	doc.Set("language", language)
	doc.Set("structure", structure)

	metadata := map[string]any{"language": language}
	for pair := structure.Oldest(); pair != nil; pair = pair.Next() {
		metadata[pair.Key] = pair.Value
	}

	return &Result{
		Normalized: doc,
		Format:     FormatCode,
		Structured: false,
		Metadata:   metadata,
	}, nil
}

// detectLanguage votes on keyword presence. A tie with any JavaScript
// signal reads as JavaScript; TypeScript wins when typing syntax shows.
func detectLanguage(code string) string {
	pyScore := 0
	for _, kw := range pythonKeywords {
		if strings.Contains(code, kw) {
			pyScore++
		}
	}
	jsScore := 0
	for _, kw := range jsKeywords {
		if strings.Contains(code, kw) {
			jsScore++
		}
	}

	switch {
	case pyScore > jsScore:
		return "python"
	case jsScore > 0:
		if strings.Contains(code, "interface ") || strings.Contains(code, ": ") {
			return "typescript"
		}
		return "javascript"
	default:
		return "unknown"
	}
}

func pythonStructure(code string) *Document {
	var functions []any
	for _, m := range pyFuncRe.FindAllStringSubmatch(code, -1) {
		fn := NewDocument()
		fn.Set("name", m[1])
		fn.Set("params", strings.TrimSpace(m[2]))
		if m[3] != "" {
			fn.Set("return_type", strings.TrimSpace(m[3]))
		} else {
			fn.Set("return_type", nil)
		}
		functions = append(functions, fn)
	}

	var classes []any
	for _, m := range pyClassRe.FindAllStringSubmatch(code, -1) {
		cl := NewDocument()
		cl.Set("name", m[1])
		if m[2] != "" {
			cl.Set("bases", strings.TrimSpace(m[2]))
		} else {
			cl.Set("bases", nil)
		}
		classes = append(classes, cl)
	}

	var imports []string
	for _, m := range pyImportRe.FindAllStringSubmatch(code, -1) {
		for _, imp := range strings.Split(m[1], ",") {
			imports = append(imports, strings.TrimSpace(imp))
		}
	}
	for _, m := range pyFromRe.FindAllStringSubmatch(code, -1) {
		imports = append(imports, m[1])
	}

	var decorators []string
	for _, m := range pyDecoratorRe.FindAllStringSubmatch(code, -1) {
		decorators = append(decorators, m[1])
	}

	doc := NewDocument()
	doc.Set("functions", functions)
	doc.Set("classes", classes)
	doc.Set("imports", dedupe(imports))
	doc.Set("decorators", dedupe(decorators))
	return doc
}

func jsStructure(code string) *Document {
	var functions []any
	for _, m := range jsFuncRe.FindAllStringSubmatch(code, -1) {
		fn := NewDocument()
		fn.Set("name", m[1])
		fn.Set("type", "function")
		functions = append(functions, fn)
	}
	for _, m := range jsArrowRe.FindAllStringSubmatch(code, -1) {
		fn := NewDocument()
		fn.Set("name", m[1])
		fn.Set("type", "arrow")
		functions = append(functions, fn)
	}

	var classes []any
	for _, m := range jsClassRe.FindAllStringSubmatch(code, -1) {
		cl := NewDocument()
		cl.Set("name", m[1])
		if m[2] != "" {
			cl.Set("extends", m[2])
		} else {
			cl.Set("extends", nil)
		}
		classes = append(classes, cl)
	}

	var imports []string
	for _, m := range jsImportRe.FindAllStringSubmatch(code, -1) {
		imports = append(imports, m[1])
	}
	for _, m := range jsRequireRe.FindAllStringSubmatch(code, -1) {
		imports = append(imports, m[1])
	}

	var exports []string
	for _, m := range jsExportRe.FindAllStringSubmatch(code, -1) {
		exports = append(exports, m[1])
	}

	doc := NewDocument()
	doc.Set("functions", functions)
	doc.Set("classes", classes)
	doc.Set("imports", dedupe(imports))
	doc.Set("exports", exports)
	return doc
}

func genericStructure(code string) *Document {
	lines := strings.Split(code, "\n")
	nonEmpty := 0
	comments := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") ||
			strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*") {
			comments++
		}
	}

	doc := NewDocument()
	doc.Set("line_count", len(lines))
	doc.Set("non_empty_lines", nonEmpty)
	doc.Set("comment_lines", comments)
	return doc
}

// dedupe removes duplicates while keeping first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
