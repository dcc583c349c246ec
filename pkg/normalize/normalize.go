// Package normalize turns raw payloads into normalized documents and
// derives the text that gets embedded for semantic matching.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contexhq/contex/pkg/parser"
)

// maxEmbedChars bounds the content portion of embedding text. Longer
// content is cut and marked with an ellipsis.
const maxEmbedChars = 500

// embedSkipKeys are dropped from structured content before embedding;
// they describe the data rather than carry it.
var embedSkipKeys = map[string]bool{
	"content_type": true,
	"structure":    true,
	"schema":       true,
}

// Normalized is a parsed payload plus everything needed to embed it.
type Normalized struct {
	// Data is the normalized document.
	Data *parser.Document
	// Format names the detected format.
	Format string
	// Structured reports whether the payload carried key/value content.
	Structured bool
	// Metadata carries parser specific details.
	Metadata map[string]any
}

// Normalizer runs payloads through the parser registry.
type Normalizer struct {
	registry *parser.Registry
}

// New returns a Normalizer backed by the default parser registry.
func New() *Normalizer {
	return &Normalizer{registry: parser.NewRegistry()}
}

// Normalize parses raw into a normalized document. The hint, when set,
// forces the matching parser to take the first attempt.
func (n *Normalizer) Normalize(raw any, hint string) (*Normalized, error) {
	res, err := n.registry.Parse(raw, hint)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return &Normalized{
		Data:       res.Normalized,
		Format:     res.Format,
		Structured: res.Structured,
		Metadata:   res.Metadata,
	}, nil
}

// EmbeddingText renders the text embedded for semantic matching.
//
// Structured content becomes "key: value" pairs joined with " | ",
// skipping metadata keys, with collections rendered as JSON. The data
// key prefixes the content unless it carries path or index syntax, in
// which case its trailing segment is appended in parentheses instead.
// Unstructured content embeds the data key and the content field.
func (n *Normalized) EmbeddingText(dataKey string) string {
	if !n.Structured {
		content, _ := n.Data.Get("content")
		text, _ := content.(string)
		return dataKey + ": " + truncate(text)
	}

	var parts []string
	for pair := n.Data.Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(pair.Key, "_") || embedSkipKeys[pair.Key] {
			continue
		}
		parts = append(parts, pair.Key+": "+renderValue(pair.Value))
	}
	content := truncate(strings.Join(parts, " | "))

	if clean := cleanKey(dataKey); clean != "" && clean != dataKey {
		return content + " (" + clean + ")"
	}
	return dataKey + ": " + content
}

func renderValue(v any) string {
	switch v.(type) {
	case *parser.Document, []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxEmbedChars {
		return s
	}
	return string(runes[:maxEmbedChars]) + "..."
}

// cleanKey strips array indices and leading path segments so that keys
// like "servers[2]" or "app.db.host" embed as "servers" and "host".
func cleanKey(key string) string {
	if !strings.ContainsAny(key, "[.") {
		return key
	}
	head, _, _ := strings.Cut(key, "[")
	if i := strings.LastIndex(head, "."); i >= 0 {
		return head[i+1:]
	}
	return head
}
