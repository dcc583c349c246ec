// Package cli holds the terminal output helpers shared by the commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	bold   = color.New(color.Bold).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

// Printer writes user-facing command output. Quiet mode drops the
// informational lines and keeps results and errors.
type Printer struct {
	out   io.Writer
	quiet bool
}

type PrinterOption func(*Printer)

func WithQuiet(quiet bool) PrinterOption {
	return func(p *Printer) {
		p.quiet = quiet
	}
}

func NewPrinter(out io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{out: out}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Infof prints a progress line, suppressed in quiet mode.
func (p *Printer) Infof(format string, a ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format+"\n", a...)
}

// Successf prints a green check line, suppressed in quiet mode.
func (p *Printer) Successf(format string, a ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", green("✓"), fmt.Sprintf(format, a...))
}

// Warnf prints a warning line, suppressed in quiet mode.
func (p *Printer) Warnf(format string, a ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", yellow("⚠"), fmt.Sprintf(format, a...))
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) {
	p.Printf("❌ %s\n", err)
}

// JSON pretty-prints v, for results that scripts consume.
func (p *Printer) JSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, string(raw))
	return nil
}

// FormatData renders a value the way the commands preview published
// payloads: objects keep their key order, everything else falls back to
// indented JSON.
func FormatData(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("(%v)", v)
	}

	kv := orderedmap.New[string, any]()
	if err := json.Unmarshal(raw, &kv); err == nil {
		if kv.Len() == 0 {
			return "()"
		}

		var (
			parts     []string
			multiline bool
		)
		for key, value := range kv.FromOldest() {
			formatted := formatValue(key, value)
			parts = append(parts, formatted)

			multiline = multiline || strings.Contains(formatted, "\n")
		}

		if len(parts) == 1 && !multiline {
			return fmt.Sprintf("(%s)", parts[0])
		}
		return fmt.Sprintf("(\n  %s\n)", strings.Join(parts, "\n  "))
	}

	// Not an object
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		formatted, _ := json.MarshalIndent(parsed, "", "  ")
		return fmt.Sprintf("(%s)", string(formatted))
	}
	return fmt.Sprintf("(%s)", raw)
}

func formatValue(key string, value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%s: %q", bold(key), v)

	case []any:
		if len(v) == 0 {
			return fmt.Sprintf("%s: []", bold(key))
		}
		// Single item arrays are rendered on a single line
		if len(v) == 1 {
			jsonBytes, _ := json.Marshal(v)
			return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))
		}
		jsonBytes, _ := json.MarshalIndent(v, "", "  ")
		return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))

	case map[string]any:
		jsonBytes, _ := json.MarshalIndent(v, "", "  ")
		return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))

	default:
		jsonBytes, _ := json.Marshal(v)
		return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))
	}
}
