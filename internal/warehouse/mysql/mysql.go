// Package mysql implements a MySQL warehouse through database/sql and
// go-sql-driver/mysql. The dataset maps to a MySQL database.
//
// MySQL commits DDL implicitly, so a table created by the first load
// survives a later rollback of that load's rows.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

// insertBatch is the number of rows per multi-row INSERT.
const insertBatch = 500

// Server error numbers used by Classify.
const (
	erDBAccessDenied    = 1044
	erAccessDenied      = 1045
	erBadDB             = 1049
	erBadFieldError     = 1054
	erTableAccessDenied = 1142
	erBadNull           = 1048
	erTruncatedWrong    = 1366
	erWrongValueCount   = 1136
)

// Dialect is the MySQL flavour of sqlwh.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }

func (d Dialect) TableName(t warehouse.TableID) string {
	return d.QuoteIdent(t.Dataset) + "." + d.QuoteIdent(t.Table)
}

func (Dialect) Placeholder(int) string { return "?" }

// TypeName maps TIMESTAMP to DATETIME; MySQL's TIMESTAMP stops in 2038 and
// converts through the session time zone.
func (Dialect) TypeName(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeFloat:
		return "DOUBLE"
	case warehouse.TypeTimestamp:
		return "DATETIME"
	}
	return "TEXT"
}

func (Dialect) SchemaExistsQuery() string {
	return "SELECT 1 FROM information_schema.schemata WHERE schema_name = ?"
}

func (d Dialect) CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string {
	return sqlwh.CreateIfNotExists(d, t, cols)
}

func (Dialect) Classify(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case erBadDB:
		return fmt.Errorf("%w: %v", warehouse.ErrDatasetNotFound, err)
	case erDBAccessDenied, erAccessDenied, erTableAccessDenied:
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case erBadFieldError, erBadNull, erTruncatedWrong, erWrongValueCount:
		return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
	}
	return err
}

// batchInsert writes rows with multi-row INSERT statements.
func batchInsert(ctx context.Context, tx *sql.Tx, d sqlwh.Dialect, t warehouse.TableID, cols []string, rows [][]any) (int64, error) {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.TableName(t), sqlwh.QuotedColumns(d, cols))

	var n int64
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		chunk := rows[start:end]

		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if len(row) != len(cols) {
				return n, fmt.Errorf("row %d has %d values, want %d", start+i, len(row), len(cols))
			}
			tuples[i] = tuple
			args = append(args, row...)
		}
		res, err := tx.ExecContext(ctx, prefix+strings.Join(tuples, ", "), args...)
		if err != nil {
			return n, fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, err
		}
		n += affected
	}
	return n, nil
}

// Open connects to dsn (go-sql-driver format, e.g.
// "user:pass@tcp(host:3306)/traffic"). Timestamps are written as UTC.
func Open(ctx context.Context, dsn string, store blobstore.Store) (*sqlwh.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql: DSN must not be empty")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, Dialect{}.Classify(fmt.Errorf("mysql: ping: %w", err))
	}
	return &sqlwh.DB{SQL: db, Dialect: Dialect{}, Store: store, Insert: batchInsert}, nil
}

func init() {
	warehouse.Register("mysql", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		return Open(ctx, cfg.DSN, store)
	})
}
