// Package parser detects the format of raw payloads and normalizes them
// into ordered documents suitable for embedding and storage.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Document is normalized structured content with stable key order.
type Document = orderedmap.OrderedMap[string, any]

// NewDocument returns an empty ordered document.
func NewDocument() *Document {
	return orderedmap.New[string, any]()
}

// Format names reported by the built-in parsers.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatTOML     = "toml"
	FormatXML      = "xml"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatCode     = "code"
	FormatText     = "text"
)

// Result is the outcome of parsing a raw payload.
type Result struct {
	// Normalized holds the parsed content in document key order.
	Normalized *Document
	// Format names the parser that produced the result.
	Format string
	// Structured reports whether the payload carried key/value structure
	// rather than free-form text.
	Structured bool
	// Metadata carries format specific details, such as the CSV dialect
	// or the XML root tag.
	Metadata map[string]any
}

// Parser normalizes one input format.
type Parser interface {
	// Name identifies the format, e.g. "json".
	Name() string
	// Priority orders dispatch. Lower values are tried first.
	Priority() int
	// CanParse reports whether the parser wants to handle raw. A format
	// hint matching the parser forces a positive answer.
	CanParse(raw any, hint string) bool
	// Parse normalizes raw.
	Parse(raw any) (*Result, error)
}

// ErrUnparsable is returned when no parser accepts a payload.
var ErrUnparsable = errors.New("no parser accepted the data")

// Registry dispatches raw payloads to parsers in priority order.
type Registry struct {
	parsers []Parser
}

// NewRegistry returns a registry with every built-in parser registered,
// ending with the plain text fallback.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(
		&JSONParser{},
		&YAMLParser{},
		&TOMLParser{},
		&XMLParser{},
		&CSVParser{},
		&MarkdownParser{},
		&CodeParser{},
		&TextParser{},
	)
	return r
}

// Register adds parsers and re-sorts the dispatch order.
func (r *Registry) Register(parsers ...Parser) {
	r.parsers = append(r.parsers, parsers...)
	sort.SliceStable(r.parsers, func(i, j int) bool {
		return r.parsers[i].Priority() < r.parsers[j].Priority()
	})
}

// Parsers returns the registered parsers in dispatch order.
func (r *Registry) Parsers() []Parser {
	return r.parsers
}

// Parse tries each parser in priority order. A parser that accepts the
// payload but fails to parse it does not stop dispatch; the next
// candidate gets its turn. The plain text fallback accepts anything, so
// a default registry never returns ErrUnparsable.
func (r *Registry) Parse(raw any, hint string) (*Result, error) {
	var lastErr error
	for _, p := range r.parsers {
		if !p.CanParse(raw, hint) {
			continue
		}
		res, err := p.Parse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return res, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparsable, lastErr)
	}
	return nil, ErrUnparsable
}

// HintForPath maps a file extension to a format hint. Unknown
// extensions return "" so dispatch falls back to content sniffing.
func HintForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".xml":
		return FormatXML
	case ".csv":
		return FormatCSV
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatText
	default:
		return ""
	}
}

// Decode interprets a raw JSON payload, preserving key order for
// objects. Objects decode to *Document, strings to string, and other
// JSON values to their usual Go shapes.
func Decode(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '{' {
		doc := NewDocument()
		if err := json.Unmarshal(trimmed, doc); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		return doc, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// truncateRunes shortens s to at most n characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
