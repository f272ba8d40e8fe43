package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"trafficetl/internal/blobstore"
	_ "trafficetl/internal/blobstore/local"
	"trafficetl/internal/config"
	"trafficetl/internal/logging"
	_ "trafficetl/internal/parser/csv"
	"trafficetl/internal/warehouse"
	_ "trafficetl/internal/warehouse/sqlite"
)

const sourceCSV = "Time,Traffic\n23/05/21 14:30,6.5\n24/05/21 09:15,3\n"

// fixture is one isolated environment: a local blob store with bucket "bkt",
// a SQLite warehouse file and a work directory.
type fixture struct {
	root string
	env  map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bkt", "raw_data"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f := &fixture{root: root}
	f.writeSource(t, sourceCSV)
	f.env = map[string]string{
		config.EnvProject:       "traffic-project",
		config.EnvBucket:        "bkt",
		config.EnvDataset:       "traffic",
		config.EnvTable:         "readings",
		config.EnvSource:        "local://bkt/raw_data/traffic.csv",
		config.EnvBlobStoreKind: "local",
		config.EnvLocalBlobRoot: root,
		config.EnvWarehouseKind: "sqlite",
		config.EnvWarehouseDSN:  filepath.Join(t.TempDir(), "wh.db"),
		config.EnvWorkDir:       filepath.Join(t.TempDir(), "work"),
	}
	return f
}

func (f *fixture) writeSource(t *testing.T, body string) {
	t.Helper()
	p := filepath.Join(f.root, "bkt", "raw_data", "traffic.csv")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
}

// runner returns a Runner over the fixture's environment. Each call to the
// clock advances one second so consecutive runs get distinct timestamps.
func (f *fixture) runner(overrides map[string]string) *Runner {
	env := make(map[string]string, len(f.env))
	for k, v := range f.env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	var (
		mu  sync.Mutex
		now = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	)
	return &Runner{
		Logger: logging.Discard(),
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		},
		LoadConfig: func() (config.Config, []config.Issue, error) {
			return config.FromEnv(func(k string) string { return env[k] })
		},
	}
}

func (f *fixture) exists(t *testing.T, rel string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
	return err == nil
}

/*
TestRunSuccess runs the whole pipeline against the local blob store and a
SQLite warehouse and checks the backup, the staged artifact, the loaded rows
and the cleanup of the work directory.
*/
func TestRunSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.runner(nil).Run(context.Background())
	if res.Outcome != OutcomeSuccess || res.State != StateComplete {
		t.Fatalf("outcome=%v state=%v err=%v", res.Outcome, res.State, res.Err)
	}
	if res.RunTimestamp != "20240601_080001" {
		t.Fatalf("run timestamp = %q", res.RunTimestamp)
	}
	if res.RowsExtracted != 2 || res.RowsLoaded != 2 || res.TableTotal != 2 {
		t.Fatalf("rows: extracted=%d loaded=%d total=%d", res.RowsExtracted, res.RowsLoaded, res.TableTotal)
	}
	if !f.exists(t, "bkt/backups/original_"+res.RunTimestamp+".csv") {
		t.Fatalf("backup missing")
	}
	staged, err := os.ReadFile(filepath.Join(f.root, "bkt", "processed", "traffic_data_"+res.RunTimestamp+".csv"))
	if err != nil {
		t.Fatalf("staged artifact: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(staged)), "\n")
	if lines[0] != "time,traffic,created_at" || !strings.HasPrefix(lines[1], "2021-05-23 14:30:00,6.5,") {
		t.Fatalf("staged content:\n%s", staged)
	}
	if _, err := os.Stat(filepath.Join(f.env[config.EnvWorkDir], "run_"+res.RunTimestamp)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("work directory not removed: %v", err)
	}
}

// TestRunLogsRunOnce checks that stage records carry the run timestamp once
// next to their stage.
func TestRunLogsRunOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var buf bytes.Buffer
	r := f.runner(nil)
	r.Logger = logging.New(&buf, logging.Options{Format: "json"})
	if res := r.Run(context.Background()); res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
	}

	staged := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, `"run":`); n > 1 {
			t.Fatalf("run attribute written %d times: %s", n, line)
		}
		if strings.Contains(line, `"stage":"load"`) {
			staged++
			if !strings.Contains(line, `"run":"20240601_080001"`) {
				t.Fatalf("load record without run: %s", line)
			}
		}
	}
	if staged == 0 {
		t.Fatalf("no load stage records:\n%s", buf.String())
	}
}

/*
TestWriteModes checks the row-count law: appending the same source twice
doubles the table, truncating leaves exactly one copy.
*/
func TestWriteModes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i, want := range []int64{2, 4} {
		res := f.runner(nil).Run(ctx)
		if res.Outcome != OutcomeSuccess || res.TableTotal != want {
			t.Fatalf("append run %d: outcome=%v total=%d err=%v", i, res.Outcome, res.TableTotal, res.Err)
		}
	}
	res := f.runner(map[string]string{config.EnvWriteMode: "truncate"}).Run(ctx)
	if res.Outcome != OutcomeSuccess || res.TableTotal != 2 {
		t.Fatalf("truncate run: outcome=%v total=%d err=%v", res.Outcome, res.TableTotal, res.Err)
	}
}

/*
TestRunFailures maps each failing stage to its exit code and checks that
nothing is written past the failing stage.
*/
func TestRunFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		env       map[string]string
		source    string
		wantStage State
		want      Outcome
	}{
		{
			name:      "missing configuration",
			env:       map[string]string{config.EnvTable: "", config.EnvBucket: ""},
			wantStage: StateConfiguring,
			want:      OutcomeConfigError,
		},
		{
			name:      "missing source object",
			env:       map[string]string{config.EnvSource: "local://bkt/raw_data/absent.csv"},
			wantStage: StateExtracting,
			want:      OutcomeExtractionErr,
		},
		{
			name:      "missing traffic column",
			source:    "time,volume\n23/05/21 14:30,1\n",
			wantStage: StateExtracting,
			want:      OutcomeExtractionErr,
		},
		{
			name:      "month-first time",
			source:    "time,traffic\n05/23/21 14:30,1\n",
			wantStage: StateTransforming,
			want:      OutcomeTransformError,
		},
		{
			name:      "negative traffic rejected",
			env:       map[string]string{config.EnvNegativePolicy: "reject"},
			source:    "time,traffic\n23/05/21 14:30,-1\n",
			wantStage: StateTransforming,
			want:      OutcomeTransformError,
		},
		{
			name:      "staging bucket missing",
			env:       map[string]string{config.EnvBucket: "no-such-bucket"},
			wantStage: StateLoading,
			want:      OutcomeLoadError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tc.source != "" {
				f.writeSource(t, tc.source)
			}
			res := f.runner(tc.env).Run(context.Background())
			if res.State != StateFailed || res.FailedStage != tc.wantStage || res.Outcome != tc.want {
				t.Fatalf("state=%v failed_at=%v outcome=%v err=%v", res.State, res.FailedStage, res.Outcome, res.Err)
			}
			if res.RunTimestamp == "" {
				t.Fatalf("run timestamp not set")
			}
			if tc.wantStage != StateLoading && f.exists(t, "bkt/processed") {
				t.Fatalf("artifact staged after %v failure", tc.wantStage)
			}
		})
	}
}

// TestRunPanicIsUnknown checks a panicking stage is recovered as outcome 99.
func TestRunPanicIsUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	r := f.runner(nil)
	r.OpenWarehouse = func(context.Context, warehouse.Config, blobstore.Store) (warehouse.Warehouse, error) {
		panic("driver exploded")
	}

	res := r.Run(context.Background())
	if res.Outcome != OutcomeUnknown || res.FailedStage != StateLoading {
		t.Fatalf("outcome=%v stage=%v err=%v", res.Outcome, res.FailedStage, res.Err)
	}
	if !strings.Contains(res.Err.Error(), "driver exploded") {
		t.Fatalf("err = %v", res.Err)
	}
}

type failingCount struct{ warehouse.Warehouse }

func (failingCount) Count(context.Context, warehouse.TableID) (int64, error) {
	return 0, errors.New("count unavailable")
}

// TestVerifyFailureWarns checks a failed row count does not fail the run.
func TestVerifyFailureWarns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	r := f.runner(nil)
	r.OpenWarehouse = func(ctx context.Context, cfg warehouse.Config, s blobstore.Store) (warehouse.Warehouse, error) {
		wh, err := warehouse.New(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		return failingCount{wh}, nil
	}

	res := r.Run(context.Background())
	if res.Outcome != OutcomeSuccess || res.RowsLoaded != 2 || res.TableTotal != -1 {
		t.Fatalf("outcome=%v loaded=%d total=%d err=%v", res.Outcome, res.RowsLoaded, res.TableTotal, res.Err)
	}
}

func TestLocalSourceFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "traffic.csv")
	if err := os.WriteFile(src, []byte(sourceCSV), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := f.runner(map[string]string{config.EnvSource: src}).Run(context.Background())
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome=%v err=%v", res.Outcome, res.Err)
	}
	if !f.exists(t, "bkt/"+res.Backup.Key) {
		t.Fatalf("backup %s missing", res.Backup.Key)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var buf bytes.Buffer
	if got := f.runner(nil).Validate(&buf); got != OutcomeSuccess {
		t.Fatalf("Validate = %v\n%s", got, buf.String())
	}
	out := buf.String()
	for _, want := range []string{"traffic-project.traffic.readings", "application default credentials", "sqlite"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if got := f.runner(map[string]string{config.EnvProject: ""}).Validate(&buf); got != OutcomeConfigError {
		t.Fatalf("Validate invalid = %v", got)
	}
	if !strings.Contains(buf.String(), config.EnvProject) {
		t.Fatalf("output lacks the failing setting:\n%s", buf.String())
	}
}
