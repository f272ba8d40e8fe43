package builtin

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"trafficetl/internal/etlerr"
	"trafficetl/internal/records"
)

// ErrNullTime is returned by ParseDayFirst for a missing value.
var ErrNullTime = errors.New("time value is null")

// dayFirstLayouts are tried in order. Day and month accept one or two
// digits; two-digit years map to 2000-2068 / 1969-1999 as in time.Parse.
var dayFirstLayouts = []string{
	"2/1/06 15:04",
	"2/1/06 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
	"2-1-06 15:04",
	"2-1-2006 15:04",
	"2-1-2006 15:04:05",
	"2.1.2006 15:04",
	"2.1.2006 15:04:05",
	"2/1/06",
	"2/1/2006",
	"2.1.2006",
	CanonicalLayout,
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseDayFirst converts one raw time cell into a timestamp. Text is read
// day-first; numbers are spreadsheet date serials; time.Time passes through.
// No timezone conversion is applied.
func ParseDayFirst(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, ErrNullTime
	case time.Time:
		if x.IsZero() {
			return time.Time{}, ErrNullTime
		}
		return x.Truncate(time.Second), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, ErrNullTime
		}
		for _, layout := range dayFirstLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", s)
	}

	f, ok := number(v)
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported time value of type %T", v)
	}
	if math.IsNaN(f) {
		return time.Time{}, ErrNullTime
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("date serial %v: %w", f, err)
	}
	return t.Round(time.Second), nil
}

// NormalizeTime rewrites the time column into CanonicalLayout text.
// Any unparsable or null value fails the whole batch.
type NormalizeTime struct {
	Column string // default "time"
	Logger *slog.Logger
}

// Apply returns a copy of in with every time value in CanonicalLayout.
func (n NormalizeTime) Apply(in records.Batch) (records.Batch, error) {
	col := n.Column
	if col == "" {
		col = ColTime
	}
	if !in.HasColumn(col) {
		return records.Batch{}, etlerr.New(etlerr.KindTransformation, "missing %q column", col)
	}

	out := in.Clone()
	var (
		nulls, bad int
		firstBad   = -1
		firstVal   any
	)
	for i, r := range out.Rows {
		t, err := ParseDayFirst(r[col])
		switch {
		case errors.Is(err, ErrNullTime):
			nulls++
		case err != nil:
			bad++
			if firstBad < 0 {
				firstBad, firstVal = i+1, r[col]
			}
		default:
			r[col] = t.Format(CanonicalLayout)
		}
	}
	if bad > 0 {
		return records.Batch{}, etlerr.New(etlerr.KindTransformation,
			"failed to parse %d %s value(s), first at data row %d (%v); expected day-first dd/mm/yy HH:MM",
			bad, col, firstBad, firstVal)
	}
	if nulls > 0 {
		return records.Batch{}, etlerr.New(etlerr.KindTransformation,
			"found %d null value(s) in %q column", nulls, col)
	}
	logger(n.Logger).Info("transform: normalized time column", "column", col, "rows", out.Len())
	return out, nil
}
