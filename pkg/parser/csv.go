package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// csvSampleSize bounds how much input the dialect sniffer reads.
	csvSampleSize = 1024
	// minColumnConsistency is the share of sampled rows that must agree
	// on the modal column count.
	minColumnConsistency = 0.7
)

// csvDelimiters are the candidate delimiters in preference order.
var csvDelimiters = []rune{',', '\t', ';', '|'}

// csvRejectPatterns disqualify inputs that merely contain delimiters
// but read as code, markdown, or indented key/value text.
var csvRejectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(def|class|import|from|function|const|let|var)\s+`),
	regexp.MustCompile(`(?m)^\s*#include`),
	regexp.MustCompile(`(?m)^\s*package\s+`),
	regexp.MustCompile(`(?m)^#{1,6}\s`),
	regexp.MustCompile(`(?m)^\s{2,}\w+:\s`),
}

var csvTruthy = map[string]bool{
	"true": true, "yes": true, "1": true, "t": true, "y": true,
}

var csvBoolValues = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true,
	"1": true, "0": true, "t": true, "f": true, "y": true, "n": true,
}

// CSVParser handles delimiter-separated tabular data. It sniffs the
// dialect, infers a per-column schema, and converts cell values to
// typed records.
type CSVParser struct{}

func (*CSVParser) Name() string  { return FormatCSV }
func (*CSVParser) Priority() int { return 11 }

func (*CSVParser) CanParse(raw any, hint string) bool {
	if hint == FormatCSV || hint == "tsv" {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	for _, p := range csvRejectPatterns {
		if p.MatchString(s) {
			return false
		}
	}
	if len(strings.Split(strings.TrimSpace(s), "\n")) < 2 {
		return false
	}

	sample := truncateRunes(s, csvSampleSize)
	delim, err := sniffDelimiter(sample)
	if err != nil {
		return false
	}
	rows, err := readRows(sample, delim)
	if err != nil || len(rows) < 2 {
		return false
	}

	modal, consistent := modalColumnCount(rows)
	if modal < 2 {
		return false
	}
	return float64(consistent)/float64(len(rows)) >= minColumnConsistency
}

func (*CSVParser) Parse(raw any) (*Result, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, errors.New("csv payload must be a string")
	}

	// Fall back to standard comma-separated input when sniffing fails,
	// which happens when a format hint forced dispatch here.
	delim, err := sniffDelimiter(truncateRunes(s, csvSampleSize))
	sniffed := err == nil
	if !sniffed {
		delim = ','
	}

	rows, err := readRows(s, delim)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("csv is empty")
	}

	hasHeader := true
	if sniffed {
		hasHeader = looksLikeHeader(rows[0])
	}

	headers := rows[0]
	dataRows := rows[1:]
	if !hasHeader || len(rows) == 1 {
		headers = make([]string, len(rows[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i)
		}
		dataRows = rows
	}

	// Rows whose width disagrees with the header are dropped.
	raws := make([]*Document, 0, len(dataRows))
	for _, row := range dataRows {
		if len(row) != len(headers) {
			continue
		}
		rec := NewDocument()
		for i, h := range headers {
			rec.Set(h, row[i])
		}
		raws = append(raws, rec)
	}

	schema := detectSchema(raws, headers)

	records := make([]any, len(raws))
	for i, rec := range raws {
		typed := NewDocument()
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			colType, _ := schema.Get(pair.Key)
			typed.Set(pair.Key, convertCell(pair.Value.(string), colType.(string)))
		}
		records[i] = typed
	}

	doc := NewDocument()
	doc.Set("records", records)
	doc.Set("schema", schema)
	doc.Set("row_count", len(records))
	doc.Set("column_count", len(headers))

	return &Result{
		Normalized: doc,
		Format:     FormatCSV,
		Structured: true,
		Metadata: map[string]any{
			"delimiter":  string(delim),
			"has_header": hasHeader,
			"columns":    headers,
		},
	}, nil
}

// sniffDelimiter picks the candidate whose per-line occurrence count is
// most consistent across the sample.
func sniffDelimiter(sample string) (rune, error) {
	var lines []string
	for _, line := range strings.Split(sample, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return 0, errors.New("not enough lines to sniff a delimiter")
	}

	var best rune
	var bestShare float64
	for _, d := range csvDelimiters {
		freq := make(map[int]int)
		for _, line := range lines {
			freq[strings.Count(line, string(d))]++
		}
		modal, modalFreq := 0, 0
		for count, f := range freq {
			if f > modalFreq || (f == modalFreq && count > modal) {
				modal, modalFreq = count, f
			}
		}
		if modal == 0 {
			continue
		}
		if share := float64(modalFreq) / float64(len(lines)); share > bestShare {
			best, bestShare = d, share
		}
	}
	if best == 0 {
		return 0, errors.New("no delimiter candidate found")
	}
	return best, nil
}

func readRows(s string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(s))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func modalColumnCount(rows [][]string) (modal, consistent int) {
	freq := make(map[int]int)
	for _, row := range rows {
		freq[len(row)]++
	}
	for count, f := range freq {
		if f > freq[modal] || (f == freq[modal] && count > modal) {
			modal = count
		}
	}
	return modal, freq[modal]
}

// looksLikeHeader reports whether the first row reads as column names,
// i.e. no cell parses as a number.
func looksLikeHeader(row []string) bool {
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			return false
		}
	}
	return true
}

// detectSchema infers a column type from up to 100 sampled records,
// trying int, float, and bool before settling on string.
func detectSchema(records []*Document, headers []string) *Document {
	sample := records
	if len(sample) > 100 {
		sample = sample[:100]
	}

	schema := NewDocument()
	for _, h := range headers {
		var values []string
		for _, rec := range sample {
			if v, ok := rec.Get(h); ok {
				values = append(values, v.(string))
			}
		}
		schema.Set(h, inferColumnType(values))
	}
	return schema
}

func inferColumnType(values []string) string {
	var nonEmpty []string
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return "string"
	}

	allInts := true
	for _, v := range nonEmpty {
		if _, err := strconv.Atoi(v); err != nil {
			allInts = false
			break
		}
	}
	if allInts {
		return "int"
	}

	allFloats := true
	for _, v := range nonEmpty {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloats = false
			break
		}
	}
	if allFloats {
		return "float"
	}

	allBools := true
	for _, v := range nonEmpty {
		if !csvBoolValues[strings.ToLower(v)] {
			allBools = false
			break
		}
	}
	if allBools {
		return "bool"
	}
	return "string"
}

// convertCell turns a raw cell into its typed value. Empty cells become
// nil; values that fail conversion stay strings.
func convertCell(value, colType string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	switch colType {
	case "int":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	case "float":
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	case "bool":
		return csvTruthy[strings.ToLower(strings.TrimSpace(value))]
	}
	return value
}
