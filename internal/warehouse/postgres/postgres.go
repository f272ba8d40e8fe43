// Package postgres implements a Postgres warehouse using pgx v5. Rows are
// bulk-loaded with COPY inside the load transaction; the dataset maps to a
// Postgres schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

// Dialect is the Postgres flavour of sqlwh.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(s string) string { return pgx.Identifier{s}.Sanitize() }

func (Dialect) TableName(t warehouse.TableID) string {
	return pgx.Identifier{t.Dataset, t.Table}.Sanitize()
}

func (Dialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (Dialect) TypeName(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeFloat:
		return "DOUBLE PRECISION"
	case warehouse.TypeTimestamp:
		return "TIMESTAMP"
	}
	return "TEXT"
}

func (Dialect) SchemaExistsQuery() string {
	return "SELECT 1 FROM information_schema.schemata WHERE schema_name = $1"
}

func (d Dialect) CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string {
	return sqlwh.CreateIfNotExists(d, t, cols)
}

// Classify maps SQLSTATE codes onto warehouse sentinels.
func (Dialect) Classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "3F000": // invalid_schema_name
		return fmt.Errorf("%w: %v", warehouse.ErrDatasetNotFound, err)
	case "42501": // insufficient_privilege
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case "42703", "42804", "22P02", "23502":
		return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
	}
	return err
}

// copyFromFn is a test hook around pgx.Tx.CopyFrom.
var copyFromFn = func(ctx context.Context, tx pgx.Tx, table pgx.Identifier, cols []string, rows [][]any) (int64, error) {
	return tx.CopyFrom(ctx, table, cols, pgx.CopyFromRows(rows))
}

// Warehouse is a pgxpool-backed warehouse.Warehouse.
type Warehouse struct {
	pool  *pgxpool.Pool
	store blobstore.Store
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// Open creates a pool for dsn.
func Open(ctx context.Context, dsn string, store blobstore.Store) (*Warehouse, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Warehouse{pool: pool, store: store}, nil
}

func init() {
	warehouse.Register("postgres", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		return Open(ctx, cfg.DSN, store)
	})
}

func (w *Warehouse) Load(ctx context.Context, req warehouse.LoadRequest) (int64, error) {
	rows, err := sqlwh.ReadStaged(ctx, w.store, req.Source, req.Schema, req.SkipLeadingRows)
	if err != nil {
		return 0, err
	}

	d := Dialect{}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, d.Classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := sqlwh.Prepare(ctx, pgxTx{tx}, d, req); err != nil {
		return 0, err
	}
	n, err := copyFromFn(ctx, tx, pgx.Identifier{req.Table.Dataset, req.Table.Table}, warehouse.ColumnNames(req.Schema), rows)
	if err != nil {
		return 0, d.Classify(fmt.Errorf("copy: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, d.Classify(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

func (w *Warehouse) Count(ctx context.Context, t warehouse.TableID) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+Dialect{}.TableName(t)).Scan(&n); err != nil {
		return 0, Dialect{}.Classify(err)
	}
	return n, nil
}

func (w *Warehouse) Close() error {
	w.pool.Close()
	return nil
}

type pgxTx struct{ tx pgx.Tx }

func (p pgxTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := p.tx.Exec(ctx, query, args...)
	return err
}

func (p pgxTx) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := p.tx.Query(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}
