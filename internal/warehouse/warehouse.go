// Package warehouse is the analytical-table abstraction the pipeline loads
// into. The production backend is BigQuery; SQL engines (Postgres, MSSQL,
// SQLite, DuckDB) implement the same contract for self-hosted deployments and
// tests.
//
// Backends register themselves in init; import warehouse/all to enable them.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"trafficetl/internal/blobstore"
)

// WriteMode decides what happens to existing table rows.
type WriteMode int

const (
	WriteAppend WriteMode = iota
	WriteTruncate
)

func (m WriteMode) String() string {
	if m == WriteTruncate {
		return "truncate"
	}
	return "append"
}

// ParseWriteMode accepts append/truncate, case-insensitive, with or without a
// WRITE_ prefix. Empty means append.
func ParseWriteMode(s string) (WriteMode, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "write_")
	switch v {
	case "", "append":
		return WriteAppend, nil
	case "truncate":
		return WriteTruncate, nil
	}
	return WriteAppend, fmt.Errorf("invalid write disposition %q (want append or truncate)", s)
}

// TableID names a destination table.
type TableID struct {
	Project string
	Dataset string
	Table   string
}

func (t TableID) String() string { return t.Project + "." + t.Dataset + "." + t.Table }

// ColumnType is a logical column type; backends map it onto native types.
type ColumnType string

const (
	TypeTimestamp ColumnType = "TIMESTAMP"
	TypeFloat     ColumnType = "FLOAT64"
)

// Column is one destination column.
type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// TrafficSchema is the destination table schema.
var TrafficSchema = []Column{
	{Name: "time", Type: TypeTimestamp, Required: true},
	{Name: "traffic", Type: TypeFloat, Required: true},
	{Name: "created_at", Type: TypeTimestamp, Required: true},
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// LoadRequest describes one load job: a staged CSV object into a table.
type LoadRequest struct {
	Source          blobstore.Object
	Table           TableID
	Mode            WriteMode
	Schema          []Column
	SkipLeadingRows int64
}

// Warehouse loads staged objects into tables.
type Warehouse interface {
	// Load runs the job to completion and returns the rows it wrote.
	Load(ctx context.Context, req LoadRequest) (int64, error)
	// Count returns the current row count of t.
	Count(ctx context.Context, t TableID) (int64, error)
	Close() error
}

// Backends classify their native errors into these sentinels.
var (
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSchemaMismatch   = errors.New("schema mismatch")
)

// Config selects and configures a backend.
type Config struct {
	Kind            string // bigquery, postgres, mssql, mysql, sqlite, duckdb
	Project         string
	Location        string
	CredentialsFile string
	DSN             string
}

// Factory builds a Warehouse. store is the blob store staged objects live in.
type Factory func(ctx context.Context, cfg Config, store blobstore.Store) (Warehouse, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind, replacing any previous one.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config, store blobstore.Store) (Warehouse, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse kind=%s", cfg.Kind)
	}
	return f(ctx, cfg, store)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
