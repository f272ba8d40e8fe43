package xls

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/xuri/excelize/v2"
)

// BIFF8 record identifiers.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recDateMode   = 0x0022
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recXF         = 0x00E0
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809
	recFormat     = 0x041E
)

const (
	biff8         = 0x0600
	bofGlobals    = 0x0005
	bofWorksheet  = 0x0010
	firstUserFmt  = 164
	sheetTypeWork = 0
)

var (
	le           = binary.LittleEndian
	errTruncated = errors.New("truncated record")
)

type sheetEntry struct {
	name   string
	offset int
}

// workbook is what the globals substream tells us about cell rendering.
type workbook struct {
	date1904 bool
	formats  map[uint16]string // custom number formats by index
	xfs      []uint16          // number format index per XF record
	sst      []string
	sheets   []sheetEntry // worksheets only, in tab order
}

// record reads the record at off and returns its id, body and the offset of
// the record after it.
func record(s []byte, off int) (uint16, []byte, int, error) {
	if off < 0 || off+4 > len(s) {
		return 0, nil, 0, errTruncated
	}
	id := le.Uint16(s[off:])
	end := off + 4 + int(le.Uint16(s[off+2:]))
	if end > len(s) {
		return 0, nil, 0, fmt.Errorf("record 0x%04X at %d: %w", id, off, errTruncated)
	}
	return id, s[off+4 : end], end, nil
}

func checkBOF(data []byte, want uint16) error {
	if len(data) < 4 {
		return fmt.Errorf("BOF: %w", errTruncated)
	}
	if v := le.Uint16(data); v != biff8 {
		return fmt.Errorf("unsupported BIFF version 0x%04X", v)
	}
	if dt := le.Uint16(data[2:]); dt != want {
		return fmt.Errorf("unexpected substream type 0x%04X", dt)
	}
	return nil
}

func readGlobals(s []byte) (*workbook, error) {
	id, data, off, err := record(s, 0)
	if err != nil {
		return nil, err
	}
	if id != recBOF {
		return nil, fmt.Errorf("stream starts with record 0x%04X, not BOF", id)
	}
	if err := checkBOF(data, bofGlobals); err != nil {
		return nil, err
	}

	wb := &workbook{formats: map[uint16]string{}}
	var sstSegs [][]byte
	for {
		id, data, next, err := record(s, off)
		if err != nil {
			return nil, fmt.Errorf("globals: %w", err)
		}
		off = next
		switch id {
		case recEOF:
			if sstSegs != nil {
				if wb.sst, err = readSST(sstSegs); err != nil {
					return nil, fmt.Errorf("shared strings: %w", err)
				}
			}
			return wb, nil
		case recDateMode:
			if len(data) >= 2 {
				wb.date1904 = le.Uint16(data) == 1
			}
		case recFormat:
			if len(data) < 2 {
				return nil, fmt.Errorf("FORMAT: %w", errTruncated)
			}
			code, err := (&segReader{segs: [][]byte{data[2:]}}).unicodeString(2)
			if err != nil {
				return nil, fmt.Errorf("FORMAT: %w", err)
			}
			wb.formats[le.Uint16(data)] = code
		case recXF:
			if len(data) < 4 {
				return nil, fmt.Errorf("XF: %w", errTruncated)
			}
			wb.xfs = append(wb.xfs, le.Uint16(data[2:]))
		case recSST:
			sstSegs = [][]byte{data}
			for {
				cid, cdata, cnext, err := record(s, off)
				if err != nil || cid != recContinue {
					break
				}
				sstSegs = append(sstSegs, cdata)
				off = cnext
			}
		case recBoundSheet:
			if len(data) < 8 {
				return nil, fmt.Errorf("BOUNDSHEET: %w", errTruncated)
			}
			if data[5] != sheetTypeWork {
				continue
			}
			name, err := (&segReader{segs: [][]byte{data[6:]}}).unicodeString(1)
			if err != nil {
				return nil, fmt.Errorf("BOUNDSHEET: %w", err)
			}
			wb.sheets = append(wb.sheets, sheetEntry{name: name, offset: int(le.Uint32(data))})
		}
	}
}

// readSheet collects the cells of one worksheet substream. Embedded
// substreams (charts) are skipped.
func (wb *workbook) readSheet(s []byte, sh sheetEntry) (sheetCells, error) {
	id, data, off, err := record(s, sh.offset)
	if err != nil {
		return nil, err
	}
	if id != recBOF {
		return nil, fmt.Errorf("sheet starts with record 0x%04X, not BOF", id)
	}
	if err := checkBOF(data, bofWorksheet); err != nil {
		return nil, err
	}

	cells := sheetCells{}
	depth := 1
	pendingString := -1 // packed row<<8|col of a FORMULA waiting for its STRING
	for depth > 0 {
		id, data, next, err := record(s, off)
		if err != nil {
			return nil, err
		}
		off = next
		switch id {
		case recBOF:
			depth++
			continue
		case recEOF:
			depth--
			continue
		}
		if depth != 1 {
			continue
		}
		if id != recString {
			pendingString = -1
		}
		if err := wb.cell(cells, id, data, &pendingString); err != nil {
			return nil, fmt.Errorf("record 0x%04X: %w", id, err)
		}
	}
	return cells, nil
}

func (wb *workbook) cell(cells sheetCells, id uint16, data []byte, pending *int) error {
	switch id {
	case recNumber:
		if len(data) < 14 {
			return errTruncated
		}
		row, col, xf := cellRef(data)
		cells.set(row, col, wb.number(math.Float64frombits(le.Uint64(data[6:])), xf))
	case recRK:
		if len(data) < 10 {
			return errTruncated
		}
		row, col, xf := cellRef(data)
		cells.set(row, col, wb.number(rk(le.Uint32(data[6:])), xf))
	case recMulRK:
		if len(data) < 6 || (len(data)-6)%6 != 0 {
			return errTruncated
		}
		row, col := int(le.Uint16(data)), int(le.Uint16(data[2:]))
		for p := 4; p+6 <= len(data)-2; p += 6 {
			cells.set(row, col, wb.number(rk(le.Uint32(data[p+2:])), le.Uint16(data[p:])))
			col++
		}
	case recLabelSST:
		if len(data) < 10 {
			return errTruncated
		}
		row, col, _ := cellRef(data)
		i := int(le.Uint32(data[6:]))
		if i >= len(wb.sst) {
			return fmt.Errorf("shared string %d out of range (%d strings)", i, len(wb.sst))
		}
		cells.set(row, col, wb.sst[i])
	case recLabel:
		if len(data) < 6 {
			return errTruncated
		}
		row, col, _ := cellRef(data)
		v, err := (&segReader{segs: [][]byte{data[6:]}}).unicodeString(2)
		if err != nil {
			return err
		}
		cells.set(row, col, v)
	case recBoolErr:
		if len(data) < 8 {
			return errTruncated
		}
		row, col, _ := cellRef(data)
		if data[7] == 0 {
			cells.set(row, col, boolText(data[6] != 0))
		}
	case recFormula:
		if len(data) < 14 {
			return errTruncated
		}
		row, col, xf := cellRef(data)
		res := data[6:14]
		if le.Uint16(res[6:]) != 0xFFFF {
			cells.set(row, col, wb.number(math.Float64frombits(le.Uint64(res)), xf))
			return nil
		}
		switch res[0] {
		case 0:
			*pending = row<<8 | col
		case 1:
			cells.set(row, col, boolText(res[2] != 0))
		}
	case recString:
		if *pending < 0 {
			return nil
		}
		v, err := (&segReader{segs: [][]byte{data}}).unicodeString(2)
		if err != nil {
			return err
		}
		cells.set(*pending>>8, *pending&0xFF, v)
		*pending = -1
	}
	return nil
}

func cellRef(data []byte) (row, col int, xf uint16) {
	return int(le.Uint16(data)), int(le.Uint16(data[2:])), le.Uint16(data[4:])
}

// rk decodes the compressed RK number encoding.
func rk(v uint32) float64 {
	var f float64
	if v&0x02 != 0 {
		f = float64(int32(v) >> 2)
	} else {
		f = math.Float64frombits(uint64(v&0xFFFFFFFC) << 32)
	}
	if v&0x01 != 0 {
		f /= 100
	}
	return f
}

func boolText(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// number returns a date-formatted value as time.Time and anything else as
// float64.
func (wb *workbook) number(f float64, xf uint16) any {
	if !wb.isDate(xf) {
		return f
	}
	t, err := excelize.ExcelDateToTime(f, wb.date1904)
	if err != nil {
		return f
	}
	return t.Round(time.Second)
}

func (wb *workbook) isDate(xf uint16) bool {
	if int(xf) >= len(wb.xfs) {
		return false
	}
	ifmt := wb.xfs[xf]
	if ifmt < firstUserFmt {
		return builtinDate(ifmt)
	}
	return dateFormat(wb.formats[ifmt])
}

// builtinDate reports the built-in number formats that render dates or
// times, including the East Asian variants.
func builtinDate(ifmt uint16) bool {
	switch {
	case ifmt >= 14 && ifmt <= 22,
		ifmt >= 27 && ifmt <= 36,
		ifmt >= 45 && ifmt <= 47,
		ifmt >= 50 && ifmt <= 58:
		return true
	}
	return false
}

// dateFormat reports whether a custom format code uses date or time tokens
// once quoted literals, escapes and bracketed sections are removed.
func dateFormat(code string) bool {
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			for i++; i < len(code) && code[i] != '"'; i++ {
			}
		case '[':
			for i++; i < len(code) && code[i] != ']'; i++ {
			}
		case '\\', '_', '*':
			i++
		default:
			b.WriteByte(c)
		}
	}
	s := strings.ToLower(b.String())
	if s == "general" {
		return false
	}
	return strings.ContainsAny(s, "dmyhs")
}

// segReader reads across a record and its CONTINUE records. Character runs
// that cross a boundary restart with a fresh option byte.
type segReader struct {
	segs [][]byte
	seg  int
	off  int
}

func (r *segReader) take(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.seg >= len(r.segs) {
			return nil, errTruncated
		}
		cur := r.segs[r.seg][r.off:]
		if len(cur) == 0 {
			r.seg, r.off = r.seg+1, 0
			continue
		}
		k := min(n-len(out), len(cur))
		out = append(out, cur[:k]...)
		r.off += k
	}
	return out, nil
}

func (r *segReader) skip(n int) error {
	for n > 0 {
		if r.seg >= len(r.segs) {
			return errTruncated
		}
		cur := len(r.segs[r.seg]) - r.off
		if cur == 0 {
			r.seg, r.off = r.seg+1, 0
			continue
		}
		k := min(n, cur)
		r.off += k
		n -= k
	}
	return nil
}

func (r *segReader) chars(n int, high bool) (string, error) {
	u := make([]uint16, 0, n)
	for len(u) < n {
		if r.seg >= len(r.segs) {
			return "", errTruncated
		}
		cur := r.segs[r.seg][r.off:]
		if len(cur) == 0 {
			r.seg, r.off = r.seg+1, 0
			if r.seg >= len(r.segs) || len(r.segs[r.seg]) == 0 {
				return "", errTruncated
			}
			high = r.segs[r.seg][0]&0x01 != 0
			r.off = 1
			continue
		}
		if high {
			if len(cur) < 2 {
				return "", errTruncated
			}
			u = append(u, le.Uint16(cur))
			r.off += 2
		} else {
			u = append(u, uint16(cur[0]))
			r.off++
		}
	}
	return string(utf16.Decode(u)), nil
}

// unicodeString reads an XLUnicodeString whose character count is lenSize
// bytes wide (1 or 2), skipping rich text runs and phonetic data.
func (r *segReader) unicodeString(lenSize int) (string, error) {
	h, err := r.take(lenSize + 1)
	if err != nil {
		return "", err
	}
	n := int(h[0])
	if lenSize == 2 {
		n = int(le.Uint16(h))
	}
	flags := h[lenSize]
	var runs, ext int
	if flags&0x08 != 0 {
		b, err := r.take(2)
		if err != nil {
			return "", err
		}
		runs = int(le.Uint16(b))
	}
	if flags&0x04 != 0 {
		b, err := r.take(4)
		if err != nil {
			return "", err
		}
		ext = int(le.Uint32(b))
	}
	s, err := r.chars(n, flags&0x01 != 0)
	if err != nil {
		return "", err
	}
	if err := r.skip(4*runs + ext); err != nil {
		return "", err
	}
	return s, nil
}

func readSST(segs [][]byte) ([]string, error) {
	r := &segReader{segs: segs}
	h, err := r.take(8)
	if err != nil {
		return nil, err
	}
	unique := int(le.Uint32(h[4:]))
	out := make([]string, 0, min(unique, 1<<16))
	for i := 0; i < unique; i++ {
		s, err := r.unicodeString(2)
		if err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
