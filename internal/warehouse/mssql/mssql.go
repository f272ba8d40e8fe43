// Package mssql implements a SQL Server warehouse using go-mssqldb. Rows are
// written with the driver's bulk-copy statement; the dataset maps to a SQL
// Server schema.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

// Dialect is the SQL Server flavour of sqlwh.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }

func (d Dialect) TableName(t warehouse.TableID) string {
	return d.QuoteIdent(t.Dataset) + "." + d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(i int) string { return fmt.Sprintf("@p%d", i) }

func (Dialect) TypeName(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeFloat:
		return "FLOAT"
	case warehouse.TypeTimestamp:
		return "DATETIME2"
	}
	return "NVARCHAR(MAX)"
}

func (Dialect) SchemaExistsQuery() string { return "SELECT 1 FROM sys.schemas WHERE name = @p1" }

// CreateTableSQL uses OBJECT_ID since SQL Server has no CREATE TABLE IF NOT EXISTS.
func (d Dialect) CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string {
	name := d.TableName(t)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(name, "'", "''"), name, sqlwh.ColumnDefs(d, cols))
}

// Classify maps SQL Server error numbers onto warehouse sentinels.
func (Dialect) Classify(err error) error {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return err
	}
	switch msErr.Number {
	case 2760, 208: // schema does not exist, invalid object name
		return fmt.Errorf("%w: %v", warehouse.ErrDatasetNotFound, err)
	case 229, 262: // permission denied
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case 207, 245, 515: // invalid column, conversion failed, NULL into NOT NULL
		return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
	}
	return err
}

// bulkInsert streams rows through mssql.CopyIn inside tx.
func bulkInsert(ctx context.Context, tx *sql.Tx, d sqlwh.Dialect, t warehouse.TableID, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(d.TableName(t), mssql.BulkOptions{}, cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

// Open connects to dsn with the sqlserver driver.
func Open(ctx context.Context, dsn string, store blobstore.Store) (*sqlwh.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mssql: DSN must not be empty")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &sqlwh.DB{SQL: db, Dialect: Dialect{}, Store: store, Insert: bulkInsert}, nil
}

func init() {
	warehouse.Register("mssql", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		return Open(ctx, cfg.DSN, store)
	})
}
