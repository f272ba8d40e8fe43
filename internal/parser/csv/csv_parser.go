// Package csv decodes delimited-text sources into a records.Batch.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"trafficetl/internal/parser"
	"trafficetl/internal/records"
)

func init() {
	parser.Register(".csv", NewParser(Options{}))
}

// Options configures the CSV decoder. Zero values pick sensible defaults.
type Options struct {
	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune
}

// Parser decodes CSV input. It holds no per-input state and is safe for
// concurrent use.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Decode reads every record from r. The reader is lenient about quoting and
// row width (ragged rows are padded or truncated by parser.Build) but a row
// that cannot be tokenized at all fails the whole decode.
func (p *Parser) Decode(r io.ReadSeeker) (records.Batch, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records.Batch{}, fmt.Errorf("read csv: %w", err)
		}
		if len(rows) == 0 && len(row) > 0 {
			row[0] = strings.TrimPrefix(row[0], utf8BOM)
		}
		rows = append(rows, row)
	}
	return parser.Build(rows), nil
}
