package pipeline

import (
	"io"

	"trafficetl/internal/metrics"
	"trafficetl/internal/metrics/datadog"
	"trafficetl/internal/metrics/prompush"
)

const metricsJob = "traffic_etl"

// Backend constructors, replaceable in tests.
var (
	newPushBackend    = func(url string) (metrics.Backend, error) { return prompush.NewBackend(metricsJob, url) }
	newDatadogBackend = func(cfg datadog.Config) (metrics.Backend, error) { return datadog.NewBackend(cfg) }
)

// setupMetrics installs the configured metrics backend for the rest of the
// run. A backend that fails to initialise leaves metrics disabled.
func (rn *run) setupMetrics() {
	var (
		b   metrics.Backend
		err error
	)
	switch rn.cfg.MetricsBackend {
	case "pushgateway":
		b, err = newPushBackend(rn.cfg.PushgatewayURL)
	case "datadog":
		b, err = newDatadogBackend(datadog.Config{
			Addr:       rn.cfg.DogStatsDAddr,
			Namespace:  metricsJob + ".",
			GlobalTags: []string{"table:" + rn.cfg.TableID().String()},
		})
	default:
		rn.log.Debug("metrics: disabled", "backend", rn.cfg.MetricsBackend)
		return
	}
	if err != nil {
		rn.log.Warn("metrics: backend init failed; using nop", "backend", rn.cfg.MetricsBackend, "err", err)
		return
	}
	metrics.SetBackend(b)
	if c, ok := b.(io.Closer); ok {
		rn.metricsCloser = c
	} else {
		rn.metricsCloser = resetCloser{}
	}
	rn.log.Info("metrics: enabled", "backend", rn.cfg.MetricsBackend)
}

// resetCloser lets backends without Close still be uninstalled at run end.
type resetCloser struct{}

func (resetCloser) Close() error { return nil }
