package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := Stage(New(&buf, Options{Format: "json"}).With("run", "20240601_080000"), "extract")
	l.Info("extract: done", "rows", 3)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if m["run"] != "20240601_080000" || m["stage"] != "extract" || m["rows"] != float64(3) {
		t.Fatalf("attrs = %v", m)
	}
	if n := strings.Count(buf.String(), `"run"`); n != 1 {
		t.Fatalf("run attribute written %d times: %s", n, buf.String())
	}
}

func TestVerboseLevel(t *testing.T) {
	t.Parallel()
	var quiet, loud bytes.Buffer
	New(&quiet, Options{}).Debug("hidden")
	New(&loud, Options{Verbose: true}).Debug("shown")

	if quiet.Len() != 0 {
		t.Fatalf("debug logged without verbose: %s", quiet.String())
	}
	if !strings.Contains(loud.String(), "shown") {
		t.Fatalf("debug missing with verbose: %s", loud.String())
	}
}
