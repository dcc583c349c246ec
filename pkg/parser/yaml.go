package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

var (
	proseArticles = regexp.MustCompile(`(?i)\b(the|a|an|we|they|this|that|these|those)\b`)
	proseVerbs    = regexp.MustCompile(`(?i)\b(discussed|decided|should|would|could|will)\b`)

	yamlKeyValue  = regexp.MustCompile(`(?m)^\s*[\w-]+:\s*\S`)
	yamlListEntry = regexp.MustCompile(`(?m)^\s*-\s+[\w-]+:`)
	yamlBlockKey  = regexp.MustCompile(`(?m)^\s*[\w-]+:\s*$`)
)

// YAMLParser handles YAML mappings. Prose and bare scalars are rejected
// so that sentences containing colons do not masquerade as YAML.
type YAMLParser struct{}

func (*YAMLParser) Name() string  { return FormatYAML }
func (*YAMLParser) Priority() int { return 1 }

func (*YAMLParser) CanParse(raw any, hint string) bool {
	if hint == FormatYAML {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	if looksLikeProse(s) {
		return false
	}
	if !yamlKeyValue.MatchString(s) && !yamlListEntry.MatchString(s) && !yamlBlockKey.MatchString(s) {
		return false
	}
	doc, err := decodeYAML(s)
	if err != nil {
		return false
	}
	if doc.Len() >= 2 {
		return true
	}
	// A single key only counts when it opens a nested collection.
	if doc.Len() == 1 {
		switch doc.Oldest().Value.(type) {
		case *Document, []any:
			return true
		}
	}
	return false
}

func (*YAMLParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("yaml payload must be a string")
	}
	doc, err := decodeYAML(s)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &Result{Normalized: doc, Format: FormatYAML, Structured: true}, nil
}

// looksLikeProse flags text with several sentences and common English
// function words.
func looksLikeProse(s string) bool {
	if strings.Count(s, ".") < 2 {
		return false
	}
	return proseArticles.MatchString(s) && proseVerbs.MatchString(s)
}

// decodeYAML unmarshals a YAML mapping while preserving key order.
func decodeYAML(s string) (*Document, error) {
	var v any
	if err := yaml.UnmarshalWithOptions([]byte(s), &v, yaml.UseOrderedMap()); err != nil {
		return nil, err
	}
	ms, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("yaml decoded to %T, expected a mapping", v)
	}
	return mapSliceToDocument(ms), nil
}

func mapSliceToDocument(ms yaml.MapSlice) *Document {
	doc := NewDocument()
	for _, item := range ms {
		doc.Set(fmt.Sprintf("%v", item.Key), convertYAMLValue(item.Value))
	}
	return doc
}

func convertYAMLValue(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		return mapSliceToDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convertYAMLValue(e)
		}
		return out
	default:
		return v
	}
}
