// Package pipeline runs one ETL invocation: it resolves the configuration,
// extracts the source spreadsheet, transforms it into the canonical batch and
// loads it into the warehouse, stopping at the first failing stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/config"
	"trafficetl/internal/etlerr"
	"trafficetl/internal/extract"
	"trafficetl/internal/load"
	"trafficetl/internal/logging"
	"trafficetl/internal/metrics"
	"trafficetl/internal/records"
	"trafficetl/internal/transformer"
	"trafficetl/internal/warehouse"
)

// RunTimestampLayout formats the run timestamp used in artifact and backup
// names.
const RunTimestampLayout = "20060102_150405"

// removeAll is a test seam for the per-run work directory cleanup.
var removeAll = os.RemoveAll

// Result describes a finished run.
type Result struct {
	RunTimestamp string

	// State is StateComplete or StateFailed.
	State State
	// FailedStage is the state the run was in when it failed.
	FailedStage State
	Outcome     Outcome
	Err         error

	RowsExtracted int
	RowsLoaded    int64
	// TableTotal is the verified row count, or -1 when verification failed.
	TableTotal int64

	Backup   blobstore.Object
	Staged   blobstore.Object
	Duration time.Duration
}

// Runner executes pipeline runs. The zero value is not usable; LoadConfig
// must be set. Other fields default to the production implementations.
type Runner struct {
	Logger *slog.Logger

	// Now is the run clock. It supplies the run timestamp and created_at.
	Now func() time.Time

	// LoadConfig resolves the configuration on entry to Configuring.
	LoadConfig func() (config.Config, []config.Issue, error)

	OpenBlobStore func(ctx context.Context, cfg blobstore.Config) (blobstore.Store, error)
	OpenWarehouse func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// run carries the state of one invocation.
type run struct {
	r      *Runner
	ctx    context.Context
	cfg    config.Config
	log    *slog.Logger
	state  State
	res    Result
	store  blobstore.Store
	wh     warehouse.Warehouse
	raw    records.Batch
	out    records.Batch
	art    transformer.Artifact
	runDir string

	// metricsCloser is set when the run installed its own metrics backend.
	metricsCloser io.Closer
}

// Run executes one invocation and returns its result. Run never panics; a
// panic inside a stage is reported as an unexpected failure.
func (r *Runner) Run(ctx context.Context) Result {
	start := r.now()
	rn := &run{r: r, ctx: ctx, log: r.logger(), state: StateIdle}
	rn.res.TableTotal = -1

	defer rn.closeResources()

	stages := []struct {
		state State
		fn    func() error
	}{
		{StateConfiguring, rn.configure},
		{StateExtracting, rn.extract},
		{StateTransforming, rn.transform},
		{StateLoading, rn.load},
	}
	for _, st := range stages {
		if st.state == StateConfiguring {
			rn.res.RunTimestamp = start.UTC().Format(RunTimestampLayout)
			rn.log = rn.log.With("run", rn.res.RunTimestamp)
		}
		rn.enter(st.state)
		if err := rn.do(st.state, st.fn); err != nil {
			rn.fail(err)
			break
		}
	}
	if rn.state != StateFailed {
		rn.enter(StateComplete)
		rn.res.Outcome = OutcomeSuccess
	}
	rn.res.State = rn.state
	rn.res.Duration = r.now().Sub(start)

	if err := metrics.Flush(); err != nil {
		rn.log.Warn("metrics: flush failed", "err", err)
	}
	rn.summary()
	return rn.res
}

func (rn *run) enter(s State) {
	rn.log.Debug("pipeline: state change", "from", rn.state.String(), "to", s.String())
	rn.state = s
}

// do runs one stage, recovering panics and recording the stage metric.
func (rn *run) do(s State, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s stage: %v", s, p)
		}
		if s != StateConfiguring {
			metrics.RecordStage(s.String(), err, time.Since(start))
		}
	}()
	return fn()
}

func (rn *run) fail(err error) {
	rn.res.FailedStage = rn.state
	rn.res.Err = err
	rn.res.Outcome = OutcomeFor(err)
	rn.log.Error("pipeline: stage failed",
		"stage", rn.state.String(),
		"reason", etlerr.ReasonOf(err).String(),
		"outcome", rn.res.Outcome.Code(),
		"err", err)
	rn.state = StateFailed
}

func (rn *run) summary() {
	if rn.res.State != StateComplete {
		rn.log.Info("pipeline: run failed",
			"stage", rn.res.FailedStage.String(),
			"outcome", rn.res.Outcome.String(),
			"duration", rn.res.Duration.Truncate(time.Millisecond))
		return
	}
	rn.log.Info("pipeline: run complete",
		"rows_extracted", rn.res.RowsExtracted,
		"rows_loaded", rn.res.RowsLoaded,
		"table_total", rn.res.TableTotal,
		"duration", rn.res.Duration.Truncate(time.Millisecond))
}

func (rn *run) configure() error {
	if rn.r.LoadConfig == nil {
		return etlerr.New(etlerr.KindConfig, "no configuration loader")
	}
	cfg, warns, err := rn.r.LoadConfig()
	for _, w := range warns {
		rn.log.Warn("config: "+w.Message, "setting", w.Path)
	}
	if err != nil {
		if etlerr.KindOf(err) == etlerr.KindUnknown {
			err = etlerr.Wrap(etlerr.KindConfig, err, "load configuration")
		}
		return err
	}
	rn.cfg = cfg
	rn.log.Info("config: resolved",
		"table", cfg.TableID().String(),
		"source", cfg.Source.String(),
		"write_mode", cfg.WriteMode.String(),
		"blobstore", cfg.BlobStoreKind,
		"warehouse", cfg.WarehouseKind)
	rn.setupMetrics()
	return nil
}

func (rn *run) extract() error {
	lg := logging.Stage(rn.log, "extract")
	if rn.cfg.Source.IsRemote() {
		if err := rn.openStore(etlerr.KindExtraction); err != nil {
			return err
		}
	}
	b, err := extract.New(rn.store, lg).Extract(rn.ctx, rn.cfg.Source)
	if err != nil {
		return err
	}
	rn.raw = b
	rn.res.RowsExtracted = b.Len()
	metrics.RecordRows(metrics.KindExtracted, int64(b.Len()))
	return nil
}

func (rn *run) transform() error {
	lg := logging.Stage(rn.log, "transform")
	tr := transformer.New(transformer.Options{
		Logger:         lg,
		Now:            rn.r.now,
		NegativePolicy: rn.cfg.NegativePolicy,
		OnNegative:     func(n int) { metrics.RecordRows(metrics.KindNegativeTraffic, int64(n)) },
	})
	out, err := tr.Transform(rn.raw)
	if err != nil {
		return err
	}
	rn.out = out

	rn.runDir = filepath.Join(rn.cfg.WorkDir, "run_"+rn.res.RunTimestamp)
	a, err := tr.Persist(out, rn.runDir, rn.res.RunTimestamp)
	if err != nil {
		return err
	}
	rn.art = a
	return nil
}

func (rn *run) load() error {
	lg := logging.Stage(rn.log, "load")
	if rn.store == nil {
		if err := rn.openStore(etlerr.KindLoad); err != nil {
			return err
		}
	}
	openWH := rn.r.OpenWarehouse
	if openWH == nil {
		openWH = warehouse.New
	}
	wh, err := openWH(rn.ctx, rn.cfg.Warehouse(), rn.store)
	if err != nil {
		return etlerr.Wrap(etlerr.KindLoad, err, "open warehouse kind=%s", rn.cfg.WarehouseKind)
	}
	rn.wh = wh

	l := load.New(rn.store, wh, rn.cfg.Bucket, lg)
	if rn.res.Backup, err = l.Backup(rn.ctx, rn.cfg.Source, rn.res.RunTimestamp); err != nil {
		return err
	}
	if rn.res.Staged, err = l.Stage(rn.ctx, rn.art, load.StagedKey(rn.res.RunTimestamp)); err != nil {
		return err
	}
	table := rn.cfg.TableID()
	if rn.res.RowsLoaded, err = l.LoadToWarehouse(rn.ctx, rn.res.Staged, table, rn.cfg.WriteMode); err != nil {
		return err
	}
	metrics.RecordRows(metrics.KindLoaded, rn.res.RowsLoaded)

	total, err := l.Verify(rn.ctx, table)
	if err != nil {
		lg.Warn("load: verification failed; the load itself succeeded", "table", table.String(), "err", err)
		return nil
	}
	rn.res.TableTotal = total
	lg.Info("load: verified", "table", table.String(), "total_rows", total)
	return nil
}

func (rn *run) openStore(kind etlerr.Kind) error {
	open := rn.r.OpenBlobStore
	if open == nil {
		open = blobstore.New
	}
	s, err := open(rn.ctx, rn.cfg.BlobStore())
	if err != nil {
		return etlerr.Wrap(kind, err, "open blob store kind=%s", rn.cfg.BlobStoreKind)
	}
	rn.store = s
	return nil
}

// closeResources releases clients and removes transient files on every exit
// path.
func (rn *run) closeResources() {
	if rn.runDir != "" {
		if err := removeAll(rn.runDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rn.log.Warn("pipeline: failed to remove work directory", "path", rn.runDir, "err", err)
		}
	}
	if rn.wh != nil {
		if err := rn.wh.Close(); err != nil {
			rn.log.Warn("pipeline: close warehouse", "err", err)
		}
	}
	if rn.store != nil {
		if err := rn.store.Close(); err != nil {
			rn.log.Warn("pipeline: close blob store", "err", err)
		}
	}
	if rn.metricsCloser != nil {
		if err := rn.metricsCloser.Close(); err != nil {
			rn.log.Warn("metrics: close backend", "err", err)
		}
		metrics.SetBackend(nil)
	}
}

// Validate resolves the configuration without running and writes every
// setting to w. It returns OutcomeConfigError when the configuration is
// invalid.
func (r *Runner) Validate(w io.Writer) Outcome {
	if r.LoadConfig == nil {
		fmt.Fprintln(w, "configuration: no loader")
		return OutcomeConfigError
	}
	cfg, warns, err := r.LoadConfig()
	for _, iss := range warns {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err != nil {
		fmt.Fprintln(w, err)
		return OutcomeConfigError
	}
	fmt.Fprintln(w, "configuration is valid:")
	for _, s := range cfg.Settings() {
		fmt.Fprintf(w, "  %-18s %s\n", s.Name+":", s.Value)
	}
	return OutcomeSuccess
}
