// Package sqlite implements a SQLite warehouse using database/sql and the
// pure-Go modernc driver. SQLite has no schemas, so the dataset is not part
// of the table name and the dataset check is skipped.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
	"trafficetl/internal/warehouse/sqlwh"
)

// Dialect is the SQLite flavour of sqlwh.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func (d Dialect) TableName(t warehouse.TableID) string { return d.QuoteIdent(t.Table) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) TypeName(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeFloat:
		return "REAL"
	case warehouse.TypeTimestamp:
		return "TIMESTAMP"
	}
	return "TEXT"
}

func (Dialect) SchemaExistsQuery() string { return "" }

func (d Dialect) CreateTableSQL(t warehouse.TableID, cols []warehouse.Column) string {
	return sqlwh.CreateIfNotExists(d, t, cols)
}

func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "has no column named"),
		strings.Contains(msg, "NOT NULL constraint failed"):
		return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
	case strings.Contains(msg, "readonly database"), strings.Contains(msg, "unable to open database"):
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	}
	return err
}

// Open connects to dsn and returns a warehouse reading staged objects from store.
func Open(ctx context.Context, dsn string, store blobstore.Store) (*sqlwh.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &sqlwh.DB{SQL: db, Dialect: Dialect{}, Store: store}, nil
}

func init() {
	warehouse.Register("sqlite", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		return Open(ctx, cfg.DSN, store)
	})
}
