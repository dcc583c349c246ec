package parser

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSONParser handles payloads that already arrived as JSON objects,
// whether decoded (documents, plain maps) or as strings containing one.
type JSONParser struct{}

func (*JSONParser) Name() string  { return FormatJSON }
func (*JSONParser) Priority() int { return 0 }

func (*JSONParser) CanParse(raw any, hint string) bool {
	if hint == FormatJSON {
		return true
	}
	switch v := raw.(type) {
	case *Document, map[string]any:
		return true
	case string:
		return json.Unmarshal([]byte(v), NewDocument()) == nil
	default:
		return false
	}
}

func (*JSONParser) Parse(raw any) (*Result, error) {
	switch v := raw.(type) {
	case *Document:
		return &Result{Normalized: v, Format: FormatJSON, Structured: true}, nil
	case map[string]any:
		// Plain maps carry no order; the JSON round trip sorts keys, so
		// the resulting document is deterministic.
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		doc := NewDocument()
		if err := json.Unmarshal(encoded, doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return &Result{Normalized: doc, Format: FormatJSON, Structured: true}, nil
	case string:
		doc := NewDocument()
		if err := json.Unmarshal([]byte(v), doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return &Result{Normalized: doc, Format: FormatJSON, Structured: true}, nil
	default:
		return nil, errors.New("json payload must be an object or a string")
	}
}
