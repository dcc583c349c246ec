package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// XMLParser handles XML documents by flattening elements into nested
// documents. Attributes land under "@attributes" and leading text under
// "@text"; elements that carry nothing but text collapse to the text
// itself. Repeated child tags become lists.
type XMLParser struct{}

func (*XMLParser) Name() string  { return FormatXML }
func (*XMLParser) Priority() int { return 10 }

func (*XMLParser) CanParse(raw any, hint string) bool {
	if hint == FormatXML {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<") || !strings.HasSuffix(trimmed, ">") {
		return false
	}
	_, err := parseXML(s)
	return err == nil
}

func (*XMLParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("xml payload must be a string")
	}
	root, err := parseXML(s)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}

	doc := NewDocument()
	switch v := elementToValue(root).(type) {
	case *Document:
		doc = v
	case string:
		// A text-only root still yields a document.
		doc.Set("@text", v)
	}

	return &Result{
		Normalized: doc,
		Format:     FormatXML,
		Structured: true,
		Metadata:   map[string]any{"root_tag": root.name},
	}, nil
}

// xmlElement is an intermediate tree node. Only character data that
// appears before the first child element is kept; trailing text between
// siblings is dropped.
type xmlElement struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	hadText  bool
	sawChild bool
	children []*xmlElement
}

func parseXML(s string) (*xmlElement, error) {
	dec := xml.NewDecoder(strings.NewReader(s))

	var root *xmlElement
	var stack []*xmlElement
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlElement{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.sawChild = true
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, errors.New("text outside root element")
				}
				continue
			}
			el := stack[len(stack)-1]
			if !el.sawChild {
				el.hadText = true
				el.text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

func elementToValue(el *xmlElement) any {
	doc := NewDocument()

	if len(el.attrs) > 0 {
		attrs := NewDocument()
		for _, a := range el.attrs {
			attrs.Set(a.Name.Local, a.Value)
		}
		doc.Set("@attributes", attrs)
	}

	text := strings.TrimSpace(el.text.String())
	if text != "" {
		doc.Set("@text", text)
	}

	for _, child := range el.children {
		v := elementToValue(child)
		if existing, ok := doc.Get(child.name); ok {
			if list, isList := existing.([]any); isList {
				doc.Set(child.name, append(list, v))
			} else {
				doc.Set(child.name, []any{existing, v})
			}
		} else {
			doc.Set(child.name, v)
		}
	}

	if doc.Len() == 0 && el.hadText {
		return text
	}
	if doc.Len() == 1 {
		if only, ok := doc.Get("@text"); ok {
			return only
		}
	}
	return doc
}
