package bigquery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"trafficetl/internal/blobstore"
	"trafficetl/internal/warehouse"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"job not found", &bigquery.Error{Reason: "notFound", Message: "Not found: Dataset p:d"}, warehouse.ErrDatasetNotFound},
		{"job access", &bigquery.Error{Reason: "accessDenied"}, warehouse.ErrPermissionDenied},
		{"job schema", &bigquery.Error{Reason: "invalid", Message: "Provided Schema does not match Table p:d.t"}, warehouse.ErrSchemaMismatch},
		{"api 404", &googleapi.Error{Code: http.StatusNotFound}, warehouse.ErrDatasetNotFound},
		{"api 403", &googleapi.Error{Code: http.StatusForbidden}, warehouse.ErrPermissionDenied},
	}
	for _, tc := range cases {
		if got := classify(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("%s: classify = %v, want %v", tc.name, got, tc.want)
		}
	}

	plain := &bigquery.Error{Reason: "invalid", Message: "bad csv row"}
	if got := classify(plain); errors.Is(got, warehouse.ErrSchemaMismatch) {
		t.Fatalf("non-schema invalid error misclassified: %v", got)
	}
}

func TestToSchema(t *testing.T) {
	t.Parallel()
	s := toSchema(warehouse.TrafficSchema)
	if len(s) != 3 {
		t.Fatalf("len = %d", len(s))
	}
	if s[0].Name != "time" || s[0].Type != bigquery.TimestampFieldType || !s[0].Required {
		t.Fatalf("time field = %+v", s[0])
	}
	if s[1].Type != bigquery.FloatFieldType {
		t.Fatalf("traffic type = %v", s[1].Type)
	}
}

type schemeStore struct{ scheme string }

func (s schemeStore) Scheme() string                                               { return s.scheme }
func (schemeStore) Download(context.Context, blobstore.Object, string) error       { return nil }
func (schemeStore) Upload(context.Context, string, blobstore.Object) error         { return nil }
func (schemeStore) Copy(context.Context, blobstore.Object, blobstore.Object) error { return nil }
func (schemeStore) Open(context.Context, blobstore.Object) (io.ReadCloser, error)  { return nil, nil }
func (schemeStore) Close() error                                                   { return nil }

// TestFactory verifies the scheme guard and that the project reaches the
// client constructor.
func TestFactory(t *testing.T) {
	orig := newClient
	defer func() { newClient = orig }()

	var gotProject string
	want := errors.New("offline")
	newClient = func(ctx context.Context, projectID string, opts ...option.ClientOption) (*bigquery.Client, error) {
		gotProject = projectID
		return nil, want
	}

	ctx := context.Background()
	cfg := warehouse.Config{Kind: "bigquery", Project: "proj"}
	if _, err := warehouse.New(ctx, cfg, schemeStore{scheme: "s3"}); err == nil {
		t.Fatalf("expected error for non-gcs store")
	}
	if _, err := warehouse.New(ctx, cfg, schemeStore{scheme: "gs"}); !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
	if gotProject != "proj" {
		t.Fatalf("project = %q", gotProject)
	}
}
