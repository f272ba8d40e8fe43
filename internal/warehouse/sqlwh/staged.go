package sqlwh

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
)

var timestampLayouts = []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05"}

// ReadStaged reads the staged CSV object and converts every row into driver
// values in schema order. The first skip rows are ignored. A value that does
// not fit its column is reported as warehouse.ErrSchemaMismatch.
func ReadStaged(ctx context.Context, store blobstore.Store, obj blobstore.Object, schema []warehouse.Column, skip int64) ([][]any, error) {
	rc, err := store.Open(ctx, obj)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = len(schema)
	recs, err := r.ReadAll()
	if err != nil {
		if errors.Is(err, csv.ErrFieldCount) {
			return nil, fmt.Errorf("%w: staged file does not have %d columns: %v", warehouse.ErrSchemaMismatch, len(schema), err)
		}
		return nil, fmt.Errorf("read staged csv: %w", err)
	}
	if skip > int64(len(recs)) {
		skip = int64(len(recs))
	}
	recs = recs[skip:]

	out := make([][]any, 0, len(recs))
	for i, rec := range recs {
		row := make([]any, len(schema))
		for j, c := range schema {
			v, err := convert(rec[j], c)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %v", warehouse.ErrSchemaMismatch, int64(i)+skip+1, c.Name, err)
			}
			row[j] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func convert(s string, c warehouse.Column) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if c.Required {
			return nil, errors.New("required value is empty")
		}
		return nil, nil
	}
	switch c.Type {
	case warehouse.TypeTimestamp:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp", s)
	case warehouse.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	}
	return s, nil
}
