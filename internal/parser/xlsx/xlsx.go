// Package xlsx decodes Office Open XML workbooks (.xlsx) with excelize.
//
// Cells are read raw: date cells arrive as spreadsheet serial numbers and are
// typed as float64, which the time normalizer converts back to wall-clock
// time.
package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"trafficetl/internal/parser"
	"trafficetl/internal/records"
)

func init() {
	parser.Register(".xlsx", Decoder{})
}

// Decoder reads the first worksheet of a workbook.
type Decoder struct{}

// Decode reads the first worksheet with raw cell values.
func (Decoder) Decode(r io.ReadSeeker) (records.Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return records.Batch{}, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return records.Batch{}, fmt.Errorf("xlsx workbook has no worksheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return records.Batch{}, fmt.Errorf("read xlsx sheet %q: %w", sheets[0], err)
	}
	return parser.Build(rows), nil
}
