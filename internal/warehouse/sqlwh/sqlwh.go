// Package sqlwh holds what the SQL warehouse backends share: reading the
// staged CSV back into typed rows, the dialect contract and the
// transactional load sequence.
//
// A SQL load runs in one transaction:
//
//	check dataset (schema) → create table if absent → probe columns →
//	delete existing rows (truncate mode) → insert → commit
//
// The warehouse's Project is not used by SQL engines; the database is chosen
// by the DSN and Dataset maps to a schema where the engine has them.
package sqlwh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
)

// Dialect renders engine-specific SQL and classifies engine errors.
type Dialect interface {
	QuoteIdent(s string) string
	TableName(t warehouse.TableID) string
	Placeholder(i int) string // 1-based
	TypeName(t warehouse.ColumnType) string
	// SchemaExistsQuery takes the dataset as its only argument and returns a
	// row when the schema exists. Empty when the engine has no schemas.
	SchemaExistsQuery() string
	CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string
	// Classify wraps native errors with warehouse sentinels where possible.
	Classify(err error) error
}

// Execer is the part of a transaction Prepare needs.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Exists(ctx context.Context, query string, args ...any) (bool, error)
}

// ColumnDefs renders "col TYPE NOT NULL, ..." for cols.
func ColumnDefs(d Dialect, cols []warehouse.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		def := d.QuoteIdent(c.Name) + " " + d.TypeName(c.Type)
		if c.Required {
			def += " NOT NULL"
		}
		parts[i] = def
	}
	return strings.Join(parts, ", ")
}

// CreateIfNotExists renders the portable CREATE TABLE IF NOT EXISTS form.
func CreateIfNotExists(d Dialect, t warehouse.TableID, cols []warehouse.Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.TableName(t), ColumnDefs(d, cols))
}

// QuotedColumns renders a comma-separated quoted column list.
func QuotedColumns(d Dialect, names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = d.QuoteIdent(n)
	}
	return strings.Join(q, ", ")
}

// Prepare readies the destination table inside the load transaction.
func Prepare(ctx context.Context, ex Execer, d Dialect, req warehouse.LoadRequest) error {
	if q := d.SchemaExistsQuery(); q != "" {
		ok, err := ex.Exists(ctx, q, req.Table.Dataset)
		if err != nil {
			return d.Classify(err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", warehouse.ErrDatasetNotFound, req.Table.Dataset)
		}
	}

	if err := ex.Exec(ctx, d.CreateTableSQL(req.Table, req.Schema)); err != nil {
		return d.Classify(err)
	}

	probe := fmt.Sprintf("SELECT %s FROM %s WHERE 1=0",
		QuotedColumns(d, warehouse.ColumnNames(req.Schema)), d.TableName(req.Table))
	if err := ex.Exec(ctx, probe); err != nil {
		if c := d.Classify(err); errors.Is(c, warehouse.ErrPermissionDenied) {
			return c
		}
		return fmt.Errorf("%w: table %s does not have columns %v: %v",
			warehouse.ErrSchemaMismatch, req.Table, warehouse.ColumnNames(req.Schema), err)
	}

	if req.Mode == warehouse.WriteTruncate {
		if err := ex.Exec(ctx, "DELETE FROM "+d.TableName(req.Table)); err != nil {
			return d.Classify(err)
		}
	}
	return nil
}

// Inserter writes rows inside tx and returns how many it wrote.
type Inserter func(ctx context.Context, tx *sql.Tx, d Dialect, t warehouse.TableID, cols []string, rows [][]any) (int64, error)

// PreparedInsert inserts rows one at a time through a prepared statement.
func PreparedInsert(ctx context.Context, tx *sql.Tx, d Dialect, t warehouse.TableID, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.TableName(t), QuotedColumns(d, cols), strings.Join(ph, ", ")))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for i, row := range rows {
		if len(row) != len(cols) {
			return n, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return n, fmt.Errorf("insert row %d: %w", i, err)
		}
		n++
	}
	return n, nil
}

// DB is a database/sql-backed warehouse.Warehouse.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
	Store   blobstore.Store
	Insert  Inserter // defaults to PreparedInsert
}

var _ warehouse.Warehouse = (*DB)(nil)

func (w *DB) Load(ctx context.Context, req warehouse.LoadRequest) (int64, error) {
	rows, err := ReadStaged(ctx, w.Store, req.Source, req.Schema, req.SkipLeadingRows)
	if err != nil {
		return 0, err
	}

	tx, err := w.SQL.BeginTx(ctx, nil)
	if err != nil {
		return 0, w.Dialect.Classify(fmt.Errorf("begin tx: %w", err))
	}
	rollback := func() { _ = tx.Rollback() }

	if err := Prepare(ctx, sqlTx{tx}, w.Dialect, req); err != nil {
		rollback()
		return 0, err
	}

	insert := w.Insert
	if insert == nil {
		insert = PreparedInsert
	}
	n, err := insert(ctx, tx, w.Dialect, req.Table, warehouse.ColumnNames(req.Schema), rows)
	if err != nil {
		rollback()
		return 0, w.Dialect.Classify(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, w.Dialect.Classify(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

func (w *DB) Count(ctx context.Context, t warehouse.TableID) (int64, error) {
	var n int64
	err := w.SQL.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+w.Dialect.TableName(t)).Scan(&n)
	if err != nil {
		return 0, w.Dialect.Classify(err)
	}
	return n, nil
}

func (w *DB) Close() error { return w.SQL.Close() }

type sqlTx struct{ tx *sql.Tx }

func (s sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.tx.ExecContext(ctx, query, args...)
	return err
}

func (s sqlTx) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}
