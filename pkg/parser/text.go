package parser

import "fmt"

// TextParser is the fallback. It accepts anything and wraps it as plain
// text content.
type TextParser struct{}

func (*TextParser) Name() string  { return FormatText }
func (*TextParser) Priority() int { return 100 }

func (*TextParser) CanParse(any, string) bool { return true }

func (*TextParser) Parse(raw any) (*Result, error) {
	text, ok := raw.(string)
	if !ok {
		text = fmt.Sprintf("%v", raw)
	}

	doc := NewDocument()
	doc.Set("content", text)
	doc.Set("content_type", "text")

	return &Result{Normalized: doc, Format: FormatText, Structured: false}, nil
}
