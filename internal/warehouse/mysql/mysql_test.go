package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"

	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		num  uint16
		want error
	}{
		{erBadDB, warehouse.ErrDatasetNotFound},
		{erTableAccessDenied, warehouse.ErrPermissionDenied},
		{erAccessDenied, warehouse.ErrPermissionDenied},
		{erBadFieldError, warehouse.ErrSchemaMismatch},
		{erTruncatedWrong, warehouse.ErrSchemaMismatch},
	}
	for _, tc := range cases {
		err := fmt.Errorf("exec: %w", &mysql.MySQLError{Number: tc.num, Message: "x"})
		if got := (Dialect{}).Classify(err); !errors.Is(got, tc.want) {
			t.Fatalf("error %d: got %v, want %v", tc.num, got, tc.want)
		}
	}

	plain := errors.New("connection reset")
	if got := (Dialect{}).Classify(plain); got != plain {
		t.Fatalf("unclassified error changed: %v", got)
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	got := (Dialect{}).CreateTableSQL(warehouse.TableID{Dataset: "traffic", Table: "readings"}, warehouse.TrafficSchema)
	want := "CREATE TABLE IF NOT EXISTS `traffic`.`readings` (`time` DATETIME NOT NULL, `traffic` DOUBLE NOT NULL, `created_at` DATETIME NOT NULL)"
	if got != want {
		t.Fatalf("CreateTableSQL:\n got %s\nwant %s", got, want)
	}
	if q := (Dialect{}).QuoteIdent("we`ird"); q != "`we``ird`" {
		t.Fatalf("QuoteIdent = %s", q)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := Open(context.Background(), "not a dsn", nil); err == nil {
		t.Fatalf("expected error for malformed DSN")
	}
}

var _ sqlwh.Inserter = batchInsert
