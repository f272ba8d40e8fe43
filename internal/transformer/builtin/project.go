package builtin

import (
	"trafficetl/internal/etlerr"
	"trafficetl/internal/records"
)

// Project keeps exactly Columns, in that order.
type Project struct {
	Columns []string
}

// Apply returns a copy of in holding only Columns. A missing column is a
// transformation error.
func (p Project) Apply(in records.Batch) (records.Batch, error) {
	for _, c := range p.Columns {
		if !in.HasColumn(c) {
			return records.Batch{}, etlerr.New(etlerr.KindTransformation, "cannot project missing column %q", c)
		}
	}
	out := records.Batch{
		Columns: append([]string(nil), p.Columns...),
		Rows:    make([]records.Record, len(in.Rows)),
	}
	for i, r := range in.Rows {
		rec := make(records.Record, len(p.Columns))
		for _, c := range p.Columns {
			rec[c] = r[c]
		}
		out.Rows[i] = rec
	}
	return out, nil
}
