// Package bigquery implements warehouse.Warehouse with BigQuery load jobs.
// The staged object must live in GCS; BigQuery reads it server-side.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
)

// newClient is a test hook pointing at bigquery.NewClient.
var newClient = bigquery.NewClient

// Warehouse is a BigQuery-backed warehouse.Warehouse.
type Warehouse struct {
	client *bigquery.Client
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

func init() {
	warehouse.Register("bigquery", func(ctx context.Context, cfg warehouse.Config, store blobstore.Store) (warehouse.Warehouse, error) {
		if store == nil || store.Scheme() != "gs" {
			return nil, errors.New("bigquery warehouse requires the gcs blobstore")
		}
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		c, err := newClient(ctx, cfg.Project, opts...)
		if err != nil {
			return nil, fmt.Errorf("bigquery client: %w", err)
		}
		if cfg.Location != "" {
			c.Location = cfg.Location
		}
		return &Warehouse{client: c}, nil
	})
}

// Load runs a CSV load job from GCS and waits for it to finish.
func (w *Warehouse) Load(ctx context.Context, req warehouse.LoadRequest) (int64, error) {
	ref := bigquery.NewGCSReference(req.Source.URI("gs"))
	ref.SourceFormat = bigquery.CSV
	ref.SkipLeadingRows = req.SkipLeadingRows
	ref.Schema = toSchema(req.Schema)

	loader := w.client.DatasetInProject(req.Table.Project, req.Table.Dataset).
		Table(req.Table.Table).
		LoaderFrom(ref)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteAppend
	if req.Mode == warehouse.WriteTruncate {
		loader.WriteDisposition = bigquery.WriteTruncate
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, classify(err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, classify(err)
	}
	if err := status.Err(); err != nil {
		return 0, classify(err)
	}
	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		return stats.OutputRows, nil
	}
	return 0, nil
}

// Count runs SELECT COUNT(*) against t.
func (w *Warehouse) Count(ctx context.Context, t warehouse.TableID) (int64, error) {
	q := w.client.Query(fmt.Sprintf("SELECT COUNT(*) FROM `%s`", t.String()))
	it, err := q.Read(ctx)
	if err != nil {
		return 0, classify(err)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return 0, errors.New("count query returned no rows")
		}
		return 0, classify(err)
	}
	if len(row) != 1 {
		return 0, fmt.Errorf("count query returned %d columns", len(row))
	}
	n, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("count query returned %T", row[0])
	}
	return n, nil
}

func (w *Warehouse) Close() error { return w.client.Close() }

func toSchema(cols []warehouse.Column) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(cols))
	for _, c := range cols {
		fs := &bigquery.FieldSchema{Name: c.Name, Required: c.Required}
		switch c.Type {
		case warehouse.TypeTimestamp:
			fs.Type = bigquery.TimestampFieldType
		case warehouse.TypeFloat:
			fs.Type = bigquery.FloatFieldType
		default:
			fs.Type = bigquery.StringFieldType
		}
		out = append(out, fs)
	}
	return out
}

// classify maps BigQuery job and API errors onto warehouse sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	reason, msg := "", ""
	var bqErr *bigquery.Error
	var gerr *googleapi.Error
	switch {
	case errors.As(err, &bqErr):
		reason, msg = bqErr.Reason, bqErr.Message
	case errors.As(err, &gerr):
		msg = gerr.Message
		if len(gerr.Errors) > 0 {
			reason = gerr.Errors[0].Reason
		}
		switch gerr.Code {
		case http.StatusNotFound:
			reason = "notFound"
		case http.StatusForbidden, http.StatusUnauthorized:
			reason = "accessDenied"
		}
	}

	switch reason {
	case "notFound":
		return fmt.Errorf("%w: %v", warehouse.ErrDatasetNotFound, err)
	case "accessDenied":
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case "invalid", "invalidQuery":
		if strings.Contains(strings.ToLower(msg), "schema") {
			return fmt.Errorf("%w: %v", warehouse.ErrSchemaMismatch, err)
		}
	}
	return err
}
