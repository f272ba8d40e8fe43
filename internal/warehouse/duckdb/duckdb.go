// Package duckdb implements an embedded DuckDB warehouse through
// database/sql. The dataset maps to a DuckDB schema.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

// Dialect is the DuckDB flavour of sqlwh.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func (d Dialect) TableName(t warehouse.TableID) string {
	return d.QuoteIdent(t.Dataset) + "." + d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) TypeName(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeFloat:
		return "DOUBLE"
	case warehouse.TypeTimestamp:
		return "TIMESTAMP"
	}
	return "VARCHAR"
}

func (Dialect) SchemaExistsQuery() string {
	return "SELECT 1 FROM information_schema.schemata WHERE schema_name = ?"
}

func (d Dialect) CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string {
	return sqlwh.CreateIfNotExists(d, t, cols)
}

// Classify matches DuckDB's error class prefixes.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Catalog Error") && strings.Contains(msg, "Schema"):
		return fmt.Errorf("%w: %v", warehouse.ErrDatasetNotFound, err)
	case strings.Contains(msg, "Permission Error"), strings.Contains(msg, "read-only"):
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case strings.Contains(msg, "Binder Error"), strings.Contains(msg, "Conversion Error"),
		strings.Contains(msg, "Constraint Error"):
		return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
	}
	return err
}

// Open opens the DuckDB database at dsn (a file path or ":memory:").
func Open(ctx context.Context, dsn string, store blobstore.Store) (*sqlwh.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("duckdb: DSN must not be empty")
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", dsn, err)
	}
	return &sqlwh.DB{SQL: db, Dialect: Dialect{}, Store: store}, nil
}

func init() {
	warehouse.Register("duckdb", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		return Open(ctx, cfg.DSN, store)
	})
}
