// Package xls decodes legacy BIFF8 workbooks (.xls).
//
// The compound file container is opened with mscfb and the Workbook stream is
// read record by record. Numeric cells whose cell format is a date format
// (built-in or custom) come back as time.Time in the workbook's date system;
// other numbers are float64 and text goes through parser.Cell like every
// other format.
package xls

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/richardlehane/mscfb"

	"trafficetl/internal/parser"
	"trafficetl/internal/records"
)

func init() {
	parser.Register(".xls", Decoder{})
}

// Decoder reads the first worksheet of a BIFF8 workbook.
type Decoder struct{}

// Decode reads the whole of r and returns the first worksheet as a batch.
// Blank rows are skipped.
func (Decoder) Decode(r io.ReadSeeker) (b records.Batch, err error) {
	defer func() {
		if p := recover(); p != nil {
			b, err = records.Batch{}, fmt.Errorf("read xls: malformed workbook: %v", p)
		}
	}()
	if r == nil {
		return records.Batch{}, errors.New("read xls: nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return records.Batch{}, fmt.Errorf("read xls: %w", err)
	}
	stream, err := workbookStream(data)
	if err != nil {
		return records.Batch{}, fmt.Errorf("read xls: %w", err)
	}
	wb, err := readGlobals(stream)
	if err != nil {
		return records.Batch{}, fmt.Errorf("read xls: %w", err)
	}
	if len(wb.sheets) == 0 {
		return records.Batch{}, errors.New("read xls: workbook has no worksheets")
	}
	cells, err := wb.readSheet(stream, wb.sheets[0])
	if err != nil {
		return records.Batch{}, fmt.Errorf("read xls sheet %q: %w", wb.sheets[0].name, err)
	}
	return parser.BuildValues(cells.rows()), nil
}

// workbookStream returns the BIFF8 Workbook stream of a compound file.
func workbookStream(data []byte) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open compound file: %w", err)
	}
	for _, f := range doc.File {
		switch f.Name {
		case "Workbook":
		case "Book":
			return nil, errors.New("BIFF5 workbooks are not supported, save as Excel 97-2003 or newer")
		default:
			continue
		}
		if f.Size <= 0 || f.Size > int64(len(data)) {
			return nil, fmt.Errorf("workbook stream size %d out of range", f.Size)
		}
		buf := make([]byte, f.Size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read workbook stream: %w", err)
		}
		return buf, nil
	}
	return nil, errors.New("no Workbook stream in compound file")
}

// sheetCells collects sparse cell values keyed by zero-based row.
type sheetCells map[int][]any

func (s sheetCells) set(row, col int, v any) {
	r := s[row]
	if len(r) <= col {
		grown := make([]any, col+1)
		copy(grown, r)
		r = grown
	}
	r[col] = v
	s[row] = r
}

// rows returns the populated rows in sheet order. Rows without any stored
// cell never appear.
func (s sheetCells) rows() [][]any {
	idx := make([]int, 0, len(s))
	for i := range s {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([][]any, len(idx))
	for i, r := range idx {
		out[i] = s[r]
	}
	return out
}
