// Package parser turns raw spreadsheet bytes into a records.Batch.
//
// Decoders register themselves per file extension from their package init
// (see parser/all), so the extractor only depends on this package. Shared
// header cleanup and cell typing live here so every format produces the same
// value model: nil for empty cells, float64 for numeric cells, string
// otherwise. Decoders that know a cell's type (date cells in BIFF workbooks)
// hand typed values to BuildValues instead.
package parser

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"trafficetl/internal/records"
)

// Decoder decodes one file format. The first worksheet (or the whole file for
// delimited text) is read; the first non-blank row is the header.
type Decoder interface {
	Decode(r io.ReadSeeker) (records.Batch, error)
}

var (
	mu       sync.RWMutex
	decoders = map[string]Decoder{}
)

// Register installs d for a lower-case extension including the dot (".xls").
func Register(ext string, d Decoder) {
	mu.Lock()
	defer mu.Unlock()
	decoders[strings.ToLower(ext)] = d
}

// ForExtension returns the decoder registered for ext.
func ForExtension(ext string) (Decoder, error) {
	mu.RLock()
	d, ok := decoders[strings.ToLower(ext)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for extension %q (supported: %s)", ext, strings.Join(Extensions(), ", "))
	}
	return d, nil
}

// Extensions lists the registered extensions, sorted.
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(decoders))
	for ext := range decoders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Build assembles a Batch from string cells. Leading blank rows are skipped to
// find the header; blank data rows are dropped; short rows are padded with nil
// and long rows truncated to the header width.
func Build(rows [][]string) records.Batch {
	start := 0
	for start < len(rows) && blank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return records.Batch{}
	}
	header := CleanHeader(rows[start])

	b := records.Batch{Columns: header}
	for _, raw := range rows[start+1:] {
		if blank(raw) {
			continue
		}
		rec := make(records.Record, len(header))
		for i, col := range header {
			if i < len(raw) {
				rec[col] = Cell(raw[i])
			} else {
				rec[col] = nil
			}
		}
		b.Rows = append(b.Rows, rec)
	}
	return b
}

// BuildValues is Build for decoders that already typed their cells. Header
// cells are rendered as text; string data cells go through Cell, NaN becomes
// nil and every other value (float64, time.Time) is kept as is.
func BuildValues(rows [][]any) records.Batch {
	start := 0
	for start < len(rows) && blankValues(rows[start]) {
		start++
	}
	if start == len(rows) {
		return records.Batch{}
	}
	names := make([]string, len(rows[start]))
	for i, v := range rows[start] {
		names[i] = text(v)
	}
	header := CleanHeader(names)

	b := records.Batch{Columns: header}
	for _, raw := range rows[start+1:] {
		if blankValues(raw) {
			continue
		}
		rec := make(records.Record, len(header))
		for i, col := range header {
			rec[col] = nil
			if i >= len(raw) {
				continue
			}
			switch v := raw[i].(type) {
			case string:
				rec[col] = Cell(v)
			case float64:
				if !math.IsNaN(v) {
					rec[col] = v
				}
			default:
				rec[col] = v
			}
		}
		b.Rows = append(b.Rows, rec)
	}
	return b
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.DateTime)
	default:
		return fmt.Sprint(x)
	}
}

func blankValues(row []any) bool {
	for _, v := range row {
		switch x := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(x) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// cleanName removes format characters (BOM, zero-width joiners) and
// recomposes to NFC so visually identical headers compare equal.
var cleanName = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Cf)), norm.NFC)

// CleanHeader trims and normalizes header cells. Empty cells become
// "unnamed_<index>" so every column keeps a distinct key.
func CleanHeader(h []string) []string {
	out := make([]string, len(h))
	for i, s := range h {
		c, _, err := transform.String(cleanName, s)
		if err != nil {
			c = s
		}
		c = strings.TrimSpace(c)
		if c == "" {
			c = "unnamed_" + strconv.Itoa(i)
		}
		out[i] = c
	}
	return out
}

// Cell types one raw cell: empty → nil, numeric → float64, anything else is
// kept as trimmed text. "NaN" is treated as empty.
func Cell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if math.IsNaN(f) {
		return nil
	}
	return f
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
