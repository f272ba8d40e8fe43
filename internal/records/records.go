// Package records defines the in-memory tabular batch handed between the
// extract, transform and load stages.
//
// A Batch is treated as a value: stages build a new Batch rather than editing
// the one they received. Clone gives callers a deep copy to start from.
package records

import "strings"

// Record is one row keyed by column name. Values are nil, string, float64 or
// time.Time.
type Record map[string]any

// Clone returns a shallow copy of the record map. Values are immutable scalars
// so a map copy is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an ordered set of records plus the ordered column list they share.
type Batch struct {
	Columns []string
	Rows    []Record
}

// Len returns the number of rows.
func (b Batch) Len() int { return len(b.Rows) }

// HasColumn reports whether name is in the column list (exact match).
func (b Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// HasColumnFold reports whether name is in the column list, ignoring case.
func (b Batch) HasColumnFold(name string) bool {
	for _, c := range b.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of b.
func (b Batch) Clone() Batch {
	out := Batch{
		Columns: append([]string(nil), b.Columns...),
		Rows:    make([]Record, len(b.Rows)),
	}
	for i, r := range b.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Values returns the value of column for every row, in row order.
func (b Batch) Values(column string) []any {
	out := make([]any, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r[column]
	}
	return out
}
