// Package extract obtains the raw batch from the source location and checks
// its structure: required columns present (case-insensitive) and at least one
// data row.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/zeebo/xxh3"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/datasource"
	"trafficetl/internal/datasource/file"
	"trafficetl/internal/etlerr"
	"trafficetl/internal/parser"
	"trafficetl/internal/records"
)

// RequiredColumns must be present in the source, ignoring case.
var RequiredColumns = []string{"time", "traffic"}

// Test seams for the transient download file.
var (
	createTemp = os.CreateTemp
	removeFile = os.Remove
)

// Extractor reads sources. Store is only needed for remote sources.
type Extractor struct {
	store  blobstore.Store
	logger *slog.Logger
}

// New returns an Extractor. store may be nil when only local sources are read.
func New(store blobstore.Store, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, logger: logger}
}

// Extract returns the decoded batch for src. A remote source is downloaded
// to a transient file that is removed before Extract returns.
func (e *Extractor) Extract(ctx context.Context, src datasource.Location) (records.Batch, error) {
	e.logger.Info("extract: reading source", "source", src.String())

	dec, err := parser.ForExtension(src.Ext())
	if err != nil {
		return records.Batch{}, etlerr.Wrap(etlerr.KindExtraction, err, "cannot decode %s", src)
	}

	path := src.Path
	if src.IsRemote() {
		tmp, err := e.download(ctx, src)
		if tmp != "" {
			defer e.cleanup(tmp)
		}
		if err != nil {
			return records.Batch{}, err
		}
		path = tmp
	}

	data, err := file.NewLocal(path).ReadAll(ctx)
	if err != nil {
		return records.Batch{}, sourceError(err, "read source %s", src)
	}

	b, err := dec.Decode(bytes.NewReader(data))
	if err != nil {
		return records.Batch{}, etlerr.Wrap(etlerr.KindExtraction, err, "decode %s", src)
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !b.HasColumnFold(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return records.Batch{}, etlerr.New(etlerr.KindExtraction,
			"source %s is missing required column(s): %s (found %v)", src, strings.Join(missing, ", "), b.Columns)
	}
	if b.Len() == 0 {
		return records.Batch{}, etlerr.New(etlerr.KindExtraction, "source %s contains no data rows", src)
	}

	e.logger.Info("extract: done",
		"rows", b.Len(),
		"columns", b.Columns,
		"bytes", len(data),
		"xxh3", fmt.Sprintf("%016x", xxh3.Hash(data)),
	)
	return b, nil
}

// download stages a remote source locally. It returns the transient path
// whenever one was created, even on error, so the caller can remove it.
func (e *Extractor) download(ctx context.Context, src datasource.Location) (string, error) {
	if e.store == nil {
		return "", etlerr.New(etlerr.KindExtraction, "no blob store configured for %s", src)
	}
	f, err := createTemp("", "traffic-source-*"+src.Ext())
	if err != nil {
		return "", etlerr.Wrap(etlerr.KindExtraction, err, "create transient file")
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		return tmp, etlerr.Wrap(etlerr.KindExtraction, err, "create transient file")
	}

	obj := blobstore.Object{Bucket: src.Bucket, Key: src.Key}
	if err := e.store.Download(ctx, obj, tmp); err != nil {
		return tmp, sourceError(err, "download %s", src)
	}
	e.logger.Debug("extract: downloaded source", "source", src.String(), "path", tmp)
	return tmp, nil
}

func (e *Extractor) cleanup(path string) {
	if err := removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("extract: failed to remove transient file", "path", path, "err", err)
	}
}

func sourceError(err error, format string, a ...any) error {
	e := etlerr.Wrap(etlerr.KindExtraction, err, format, a...)
	switch {
	case errors.Is(err, blobstore.ErrNotFound), errors.Is(err, blobstore.ErrBucketNotFound), errors.Is(err, fs.ErrNotExist):
		e.Msg += " (source not found)"
		return e.WithReason(etlerr.ReasonNotFound)
	case errors.Is(err, blobstore.ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		e.Msg += " (permission denied)"
		return e.WithReason(etlerr.ReasonPermissionDenied)
	}
	return e
}
