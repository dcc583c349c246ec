package parser

import (
	"errors"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// markdownPatterns detect common markdown constructs at line starts.
var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}\s`),
	regexp.MustCompile(`(?m)^\*\*[^*]+\*\*`),
	regexp.MustCompile(`(?m)^\*[^*]+\*`),
	regexp.MustCompile(`(?m)^\[.+\]\(.+\)`),
	regexp.MustCompile("(?m)^```"),
	regexp.MustCompile(`(?m)^-\s`),
	regexp.MustCompile(`(?m)^\d+\.\s`),
}

var markdownEngine = goldmark.New()

// MarkdownParser extracts document structure from markdown text. The
// content stays unstructured; headings, links, code blocks, and list
// counts are reported alongside it.
type MarkdownParser struct{}

func (*MarkdownParser) Name() string  { return FormatMarkdown }
func (*MarkdownParser) Priority() int { return 20 }

func (*MarkdownParser) CanParse(raw any, hint string) bool {
	if hint == FormatMarkdown || hint == "md" {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	for _, p := range markdownPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func (*MarkdownParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("markdown payload must be a string")
	}

	st := extractMarkdownStructure(s)

	structure := NewDocument()
	structure.Set("headings", st.headings)
	structure.Set("links", st.links)
	structure.Set("code_blocks", st.codeBlocks)
	lists := NewDocument()
	lists.Set("unordered_items", st.unorderedItems)
	lists.Set("ordered_items", st.orderedItems)
	structure.Set("lists", lists)

	doc := NewDocument()
	doc.Set("content", s)
	doc.Set("content_type", "markdown")
	doc.Set("structure", structure)
	doc.Set("title", st.title(s))
	if summary, ok := st.summary(); ok {
		doc.Set("summary", summary)
	}
	doc.Set("heading_count", len(st.headings))
	doc.Set("link_count", len(st.links))
	doc.Set("code_block_count", len(st.codeBlocks))

	return &Result{
		Normalized: doc,
		Format:     FormatMarkdown,
		Structured: false,
		Metadata: map[string]any{
			"headings":    st.headings,
			"links":       st.links,
			"code_blocks": st.codeBlocks,
			"lists":       lists,
		},
	}, nil
}

type markdownStructure struct {
	headings       []any
	links          []any
	codeBlocks     []any
	unorderedItems int
	orderedItems   int
	firstHeading   string
	hasHeading     bool
	firstParagraph string
	hasParagraph   bool
}

// extractMarkdownStructure walks the goldmark AST once, collecting the
// structural elements in document order.
func extractMarkdownStructure(s string) *markdownStructure {
	source := []byte(s)
	root := markdownEngine.Parser().Parse(gmtext.NewReader(source))

	st := &markdownStructure{}
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Heading:
			text := nodeText(t, source)
			if !st.hasHeading {
				st.firstHeading = text
				st.hasHeading = true
			}
			h := NewDocument()
			h.Set("level", t.Level)
			h.Set("text", text)
			st.headings = append(st.headings, h)
		case *ast.Link:
			l := NewDocument()
			l.Set("text", nodeText(t, source))
			l.Set("url", string(t.Destination))
			st.links = append(st.links, l)
		case *ast.FencedCodeBlock:
			language := "text"
			if lang := t.Language(source); len(lang) > 0 {
				language = string(lang)
			}
			var code strings.Builder
			lines := t.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				code.Write(seg.Value(source))
			}
			b := NewDocument()
			b.Set("language", language)
			b.Set("code", strings.TrimSuffix(code.String(), "\n"))
			st.codeBlocks = append(st.codeBlocks, b)
		case *ast.List:
			if t.IsOrdered() {
				st.orderedItems += t.ChildCount()
			} else {
				st.unorderedItems += t.ChildCount()
			}
		case *ast.Paragraph:
			if !st.hasParagraph && t.Parent() == root {
				st.firstParagraph = nodeText(t, source)
				st.hasParagraph = true
			}
		}
		return ast.WalkContinue, nil
	})
	return st
}

// title is the first heading, or the first line when the document has
// no headings.
func (st *markdownStructure) title(s string) string {
	if st.hasHeading {
		return st.firstHeading
	}
	line, _, _ := strings.Cut(s, "\n")
	return truncateRunes(line, 100)
}

// summary is the first top-level paragraph.
func (st *markdownStructure) summary() (string, bool) {
	if !st.hasParagraph {
		return "", false
	}
	return truncateRunes(st.firstParagraph, 200), true
}

// nodeText concatenates the text segments under a node.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
