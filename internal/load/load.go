// Package load moves a run's files into the Blob Store and the Warehouse:
// backup of the original source, staging of the transformed artifact, the
// warehouse load job and the optional row-count verification.
package load

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/datasource"
	"trafficetl/internal/etlerr"
	"trafficetl/internal/transformer"
	"trafficetl/internal/warehouse"
)

// Blob Store areas.
const (
	BackupPrefix    = "backups/"
	ProcessedPrefix = "processed/"
)

// removeFile is a test seam for artifact cleanup.
var removeFile = os.Remove

// BackupKey is the key of the source backup for a run.
func BackupKey(runTimestamp, ext string) string {
	return BackupPrefix + "original_" + runTimestamp + ext
}

// StagedKey is the key of the staged artifact for a run.
func StagedKey(runTimestamp string) string {
	return ProcessedPrefix + transformer.ArtifactName(runTimestamp)
}

// Loader performs the load operations against one bucket.
type Loader struct {
	store  blobstore.Store
	wh     warehouse.Warehouse
	bucket string
	logger *slog.Logger
}

// New returns a Loader writing to bucket. wh may be nil if only Backup and
// Stage are used.
func New(store blobstore.Store, wh warehouse.Warehouse, bucket string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, wh: wh, bucket: bucket, logger: logger}
}

// Backup copies the original source into the backups area. A source already
// in the Blob Store is copied server-side; a local source is uploaded.
func (l *Loader) Backup(ctx context.Context, src datasource.Location, runTimestamp string) (blobstore.Object, error) {
	dst := blobstore.Object{Bucket: l.bucket, Key: BackupKey(runTimestamp, src.Ext())}

	var err error
	if src.IsRemote() {
		err = l.store.Copy(ctx, blobstore.Object{Bucket: src.Bucket, Key: src.Key}, dst)
	} else {
		err = l.store.Upload(ctx, src.Path, dst)
	}
	if err != nil {
		return blobstore.Object{}, blobError(err, "backup of %s to %s failed", src, l.uri(dst))
	}
	l.logger.Info("load: backed up source", "source", src.String(), "backup", l.uri(dst))
	return dst, nil
}

// Stage uploads the artifact to key and then removes the local artifact.
// Removal failure is logged, not returned.
func (l *Loader) Stage(ctx context.Context, a transformer.Artifact, key string) (blobstore.Object, error) {
	dst := blobstore.Object{Bucket: l.bucket, Key: key}
	if err := l.store.Upload(ctx, a.Path, dst); err != nil {
		return blobstore.Object{}, blobError(err, "staging %s to %s failed", a.Path, l.uri(dst))
	}
	l.logger.Info("load: staged artifact", "uri", l.uri(dst), "rows", a.Rows, "xxh3", a.ChecksumHex())

	if err := removeFile(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("load: failed to remove local artifact", "path", a.Path, "err", err)
	}
	return dst, nil
}

// LoadToWarehouse runs the load job for the staged object and blocks until
// it finishes.
func (l *Loader) LoadToWarehouse(ctx context.Context, staged blobstore.Object, table warehouse.TableID, mode warehouse.WriteMode) (int64, error) {
	if l.wh == nil {
		return 0, etlerr.New(etlerr.KindLoad, "no warehouse configured")
	}
	l.logger.Info("load: starting warehouse load", "table", table.String(), "mode", mode.String(), "source", l.uri(staged))

	n, err := l.wh.Load(ctx, warehouse.LoadRequest{
		Source:          staged,
		Table:           table,
		Mode:            mode,
		Schema:          warehouse.TrafficSchema,
		SkipLeadingRows: 1,
	})
	if err != nil {
		return 0, warehouseError(err, table)
	}
	l.logger.Info("load: warehouse load complete", "table", table.String(), "rows", n)
	return n, nil
}

// Verify returns the table's row count. Callers treat a failure as a warning.
func (l *Loader) Verify(ctx context.Context, table warehouse.TableID) (int64, error) {
	if l.wh == nil {
		return 0, etlerr.New(etlerr.KindLoad, "no warehouse configured")
	}
	n, err := l.wh.Count(ctx, table)
	if err != nil {
		return 0, etlerr.Wrap(etlerr.KindLoad, err, "row count of %s failed", table)
	}
	return n, nil
}

func (l *Loader) uri(o blobstore.Object) string { return o.URI(l.store.Scheme()) }

func blobError(err error, format string, a ...any) *etlerr.Error {
	e := etlerr.Wrap(etlerr.KindLoad, err, format, a...)
	switch {
	case errors.Is(err, blobstore.ErrBucketNotFound):
		e.Msg += "; the bucket does not exist, create it before running the pipeline"
		return e.WithReason(etlerr.ReasonNotFound)
	case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		e.Msg += "; the object no longer exists"
		return e.WithReason(etlerr.ReasonNotFound)
	case errors.Is(err, blobstore.ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		e.Msg += "; permission denied, grant the running identity object read/write access on the bucket"
		return e.WithReason(etlerr.ReasonPermissionDenied)
	}
	return e
}

func warehouseError(err error, table warehouse.TableID) *etlerr.Error {
	switch {
	case errors.Is(err, warehouse.ErrDatasetNotFound):
		return etlerr.Wrap(etlerr.KindLoad, err,
			"dataset %s.%s not found; create the dataset first (the table is created automatically)",
			table.Project, table.Dataset).WithReason(etlerr.ReasonNotFound)
	case errors.Is(err, warehouse.ErrPermissionDenied):
		return etlerr.Wrap(etlerr.KindLoad, err,
			"permission denied loading into %s; grant the running identity data-editor and job-user roles", table).
			WithReason(etlerr.ReasonPermissionDenied)
	case errors.Is(err, warehouse.ErrSchemaMismatch):
		return etlerr.Wrap(etlerr.KindLoad, err,
			"schema mismatch loading into %s; the existing table must have columns %s",
			table, schemaString()).WithReason(etlerr.ReasonSchemaMismatch)
	case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, blobstore.ErrBucketNotFound):
		return etlerr.Wrap(etlerr.KindLoad, err, "staged file for %s not found", table).WithReason(etlerr.ReasonNotFound)
	}
	return etlerr.Wrap(etlerr.KindLoad, err, "load into %s failed", table)
}

func schemaString() string {
	s := ""
	for i, c := range warehouse.TrafficSchema {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	return s
}
