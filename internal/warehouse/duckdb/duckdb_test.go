package duckdb

import (
	"errors"
	"testing"

	"trafficetl/internal/warehouse"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := map[string]error{
		"Catalog Error: Schema with name analytics does not exist!":  warehouse.ErrDatasetNotFound,
		`Binder Error: Referenced column "traffic" not found`:        warehouse.ErrSchemaMismatch,
		"Conversion Error: Could not convert string 'abc' to DOUBLE": warehouse.ErrSchemaMismatch,
	}
	for msg, want := range cases {
		if got := (Dialect{}).Classify(errors.New(msg)); !errors.Is(got, want) {
			t.Fatalf("%q: got %v want %v", msg, got, want)
		}
	}
}

func TestTableName(t *testing.T) {
	t.Parallel()
	got := (Dialect{}).TableName(warehouse.TableID{Dataset: "main", Table: "traffic"})
	if got != `"main"."traffic"` {
		t.Fatalf("TableName = %s", got)
	}
}
