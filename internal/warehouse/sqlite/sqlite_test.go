package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/blobstore/local"
	"trafficetl/internal/warehouse"
)

const staged = "time,traffic,created_at\n" +
	"2021-05-23 14:30:00,120,2024-06-01 08:00:00\n" +
	"2021-05-24 09:15:00,87.5,2024-06-01 08:00:00\n"

type fixture struct {
	wh    warehouse.Warehouse
	store blobstore.Store
	obj   blobstore.Object
	dsn   string
}

func setup(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "bkt", "processed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "traffic.csv"), []byte(staged), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := local.New(root)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	dsn := filepath.Join(t.TempDir(), "wh.db")
	wh, err := warehouse.New(context.Background(), warehouse.Config{Kind: "sqlite", DSN: dsn}, store)
	if err != nil {
		t.Fatalf("warehouse.New: %v", err)
	}
	t.Cleanup(func() { _ = wh.Close() })
	return fixture{wh: wh, store: store, obj: blobstore.Object{Bucket: "bkt", Key: "processed/traffic.csv"}, dsn: dsn}
}

func (f fixture) req(mode warehouse.WriteMode) warehouse.LoadRequest {
	return warehouse.LoadRequest{
		Source:          f.obj,
		Table:           warehouse.TableID{Project: "p", Dataset: "d", Table: "traffic"},
		Mode:            mode,
		Schema:          warehouse.TrafficSchema,
		SkipLeadingRows: 1,
	}
}

// TestLoadAppendThenTruncate verifies that append accumulates rows and
// truncate replaces them.
func TestLoadAppendThenTruncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	for i := 0; i < 2; i++ {
		n, err := f.wh.Load(ctx, f.req(warehouse.WriteAppend))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("append %d wrote %d rows", i, n)
		}
	}
	if got, _ := f.wh.Count(ctx, f.req(0).Table); got != 4 {
		t.Fatalf("after two appends count = %d, want 4", got)
	}

	if _, err := f.wh.Load(ctx, f.req(warehouse.WriteTruncate)); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if got, _ := f.wh.Count(ctx, f.req(0).Table); got != 2 {
		t.Fatalf("after truncate count = %d, want 2", got)
	}
}

func TestLoadSchemaMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	pre, err := Open(ctx, f.dsn, f.store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pre.Close()
	if _, err := pre.SQL.ExecContext(ctx, `CREATE TABLE "traffic" ("ts" TEXT, "count" INTEGER)`); err != nil {
		t.Fatalf("create conflicting table: %v", err)
	}

	_, err = f.wh.Load(ctx, f.req(warehouse.WriteAppend))
	if !errors.Is(err, warehouse.ErrSchemaMismatch) {
		t.Fatalf("want schema mismatch, got %v", err)
	}
}

func TestLoadMissingObject(t *testing.T) {
	t.Parallel()
	f := setup(t)
	req := f.req(warehouse.WriteAppend)
	req.Source.Key = "processed/none.csv"
	if _, err := f.wh.Load(context.Background(), req); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestOpenEmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
