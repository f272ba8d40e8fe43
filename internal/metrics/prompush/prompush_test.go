package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"trafficetl/internal/metrics"
)

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", ""); err == nil {
		t.Fatalf("expected error without gateway URL")
	}
	b, err := NewBackend("", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "traffic_etl" {
		t.Fatalf("default job = %q", b.jobName)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("job", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "extract", "status": "success"})
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "extract", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 42, metrics.Labels{"kind": metrics.KindLoaded})
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.StageDuration, 1.2, metrics.Labels{"stage": "extract", "status": "success"})

	if got := testutil.ToFloat64(b.stageCounter.WithLabelValues("extract", "success")); got != 2 {
		t.Fatalf("stage counter = %v", got)
	}
	if got := testutil.ToFloat64(b.recordCounter.WithLabelValues(metrics.KindLoaded)); got != 42 {
		t.Fatalf("record counter = %v", got)
	}
	if n := testutil.CollectAndCount(b.stageDuration); n != 1 {
		t.Fatalf("histogram series = %d", n)
	}
}

// TestFlushPushes verifies Flush sends the registry to the gateway under the
// job's grouping key.
func TestFlushPushes(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("traffic_etl", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": metrics.KindExtracted})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/metrics/job/traffic_etl" {
		t.Fatalf("push path = %q", path)
	}
	if !strings.Contains(body, metrics.RecordsTotal) {
		t.Fatalf("pushed body lacks %s", metrics.RecordsTotal)
	}
}
