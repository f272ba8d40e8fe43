package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trafficetl/internal/config"
)

// setEnv installs a complete local configuration. Tests using it cannot run
// in parallel because they share the process environment.
func setEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bkt", "raw_data"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src := filepath.Join(root, "bkt", "raw_data", "traffic.csv")
	if err := os.WriteFile(src, []byte("Time,Traffic\n23/05/21 14:30,6.5\n23/05/21 14:45,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for k, v := range map[string]string{
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
		config.EnvWriteMode:     "append",
		config.EnvLogFormat:     "json",
	} {
		t.Setenv(k, v)
	}
	return root
}

func TestValidateCommand(t *testing.T) {
	setEnv(t)
	var out, errOut bytes.Buffer

	code := execute(context.Background(), []string{"validate"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d\nstdout:\n%s\nstderr:\n%s", code, out.String(), errOut.String())
	}
	if !strings.Contains(out.String(), "traffic-project.traffic.readings") {
		t.Fatalf("validate output:\n%s", out.String())
	}
}

func TestValidateCommandInvalid(t *testing.T) {
	setEnv(t)
	t.Setenv(config.EnvBucket, "")
	var out, errOut bytes.Buffer

	if code := execute(context.Background(), []string{"validate"}, &out, &errOut); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

/*
TestRunCommandTruncate runs the binary entry point twice: once appending and
once with --truncate. The second run logs a table total of 2, not 4.
*/
func TestRunCommandTruncate(t *testing.T) {
	setEnv(t)
	ctx := context.Background()

	var errOut bytes.Buffer
	if code := execute(ctx, []string{"run"}, &bytes.Buffer{}, &errOut); code != 0 {
		t.Fatalf("append run exit code = %d\n%s", code, errOut.String())
	}
	errOut.Reset()
	if code := execute(ctx, []string{"run", "-v", "--truncate"}, &bytes.Buffer{}, &errOut); code != 0 {
		t.Fatalf("truncate run exit code = %d\n%s", code, errOut.String())
	}
	logs := errOut.String()
	if !strings.Contains(logs, `"write_mode":"truncate"`) || !strings.Contains(logs, `"table_total":2`) {
		t.Fatalf("truncate run logs:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"DEBUG"`) {
		t.Fatalf("verbose run logged no debug records")
	}
}

/*
TestRunCommandEnvFileLogFormat puts LOG_FORMAT=json only in the --env-file.
Every line the run writes to stderr must be a JSON record.
*/
func TestRunCommandEnvFileLogFormat(t *testing.T) {
	setEnv(t)
	t.Setenv(config.EnvLogFormat, "")
	os.Unsetenv(config.EnvLogFormat)
	envFile := filepath.Join(t.TempDir(), "run.env")
	if err := os.WriteFile(envFile, []byte(config.EnvLogFormat+"=json\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	var errOut bytes.Buffer
	if code := execute(context.Background(), []string{"--env-file", envFile, "run"}, &bytes.Buffer{}, &errOut); code != 0 {
		t.Fatalf("exit code = %d\n%s", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(errOut.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("run logged nothing")
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "{") {
			t.Fatalf("non-JSON log line: %s", l)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	if code := execute(context.Background(), []string{"bogus"}, &bytes.Buffer{}, &errOut); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestExtractionFailureExitCode(t *testing.T) {
	setEnv(t)
	t.Setenv(config.EnvSource, "local://bkt/raw_data/missing.csv")

	if code := execute(context.Background(), []string{"run"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
