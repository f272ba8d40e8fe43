package mssql

import (
	"context"
	"errors"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"trafficetl/internal/warehouse"
)

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()
	tbl := warehouse.TableID{Dataset: "dbo", Table: "traffic"}
	want := "IF OBJECT_ID(N'[dbo].[traffic]', N'U') IS NULL CREATE TABLE [dbo].[traffic] " +
		"([time] DATETIME2 NOT NULL, [traffic] FLOAT NOT NULL, [created_at] DATETIME2 NOT NULL)"
	if got := (Dialect{}).CreateTableSQL(tbl, warehouse.TrafficSchema); got != want {
		t.Fatalf("CreateTableSQL:\n got %s\nwant %s", got, want)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := map[int32]error{
		2760: warehouse.ErrDatasetNotFound,
		229:  warehouse.ErrPermissionDenied,
		207:  warehouse.ErrSchemaMismatch,
	}
	for num, want := range cases {
		if got := (Dialect{}).Classify(mssql.Error{Number: num, Message: "x"}); !errors.Is(got, want) {
			t.Fatalf("number %d: got %v want %v", num, got, want)
		}
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
