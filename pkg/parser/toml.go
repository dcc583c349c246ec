package parser

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// TOMLParser handles TOML documents. Decoded tables do not retain
// source order, so keys are emitted alphabetically.
type TOMLParser struct{}

func (*TOMLParser) Name() string  { return FormatTOML }
func (*TOMLParser) Priority() int { return 2 }

func (*TOMLParser) CanParse(raw any, hint string) bool {
	if hint == FormatTOML {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	var m map[string]any
	return toml.Unmarshal([]byte(s), &m) == nil
}

func (*TOMLParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("toml payload must be a string")
	}
	var m map[string]any
	if err := toml.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	return &Result{Normalized: mapToDocument(m), Format: FormatTOML, Structured: true}, nil
}

// mapToDocument converts a plain map into a Document with sorted keys.
func mapToDocument(m map[string]any) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := NewDocument()
	for _, k := range keys {
		doc.Set(k, convertTOMLValue(m[k]))
	}
	return doc
}

func convertTOMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return mapToDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convertTOMLValue(e)
		}
		return out
	default:
		return v
	}
}
