package builtin

import (
	"strings"

	"trafficetl/internal/records"
)

// Lowercase renames every column to its lower-case form. When two columns
// collapse to the same name the right-most one wins and the name keeps the
// position of its first occurrence.
type Lowercase struct{}

// Apply returns a copy of in with lower-cased column names.
func (Lowercase) Apply(in records.Batch) (records.Batch, error) {
	cols := make([]string, 0, len(in.Columns))
	seen := make(map[string]bool, len(in.Columns))
	for _, c := range in.Columns {
		lc := strings.ToLower(c)
		if !seen[lc] {
			seen[lc] = true
			cols = append(cols, lc)
		}
	}

	out := records.Batch{Columns: cols, Rows: make([]records.Record, len(in.Rows))}
	for i, r := range in.Rows {
		rec := make(records.Record, len(cols))
		for _, c := range in.Columns {
			rec[strings.ToLower(c)] = r[c]
		}
		out.Rows[i] = rec
	}
	return out, nil
}
