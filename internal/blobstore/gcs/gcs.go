// Package gcs implements blobstore.Store on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"trafficetl/internal/blobstore"
)

// Scheme is the URI scheme of GCS objects.
const Scheme = "gs"

// Store wraps a storage.Client.
type Store struct {
	client *storage.Client
}

var _ blobstore.Store = (*Store)(nil)

// newClient is a test hook so the factory can be exercised without ADC.
var newClient = storage.NewClient

func init() {
	blobstore.Register("gcs", func(ctx context.Context, cfg blobstore.Config) (blobstore.Store, error) {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		c, err := newClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return &Store{client: c}, nil
	})
}

// Scheme returns "gs".
func (s *Store) Scheme() string { return Scheme }

func (s *Store) handle(o blobstore.Object) *storage.ObjectHandle {
	return s.client.Bucket(o.Bucket).Object(o.Key)
}

// Open streams obj.
func (s *Store) Open(ctx context.Context, obj blobstore.Object) (io.ReadCloser, error) {
	r, err := s.handle(obj).NewReader(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return r, nil
}

// Download writes obj to the local file dst.
func (s *Store) Download(ctx context.Context, obj blobstore.Object, dst string) error {
	r, err := s.Open(ctx, obj)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return classify(err)
	}
	return f.Close()
}

// Upload writes the local file src to obj. The bucket is checked first so a
// missing bucket is reported as such rather than as a failed write.
func (s *Store) Upload(ctx context.Context, src string, obj blobstore.Object) error {
	if _, err := s.client.Bucket(obj.Bucket).Attrs(ctx); err != nil {
		return classify(err)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeObject(ctx, func(ctx context.Context) io.WriteCloser {
		w := s.handle(obj).NewWriter(ctx)
		w.ContentType = blobstore.ContentType(obj.Key)
		return w
	}, in)
}

// writeObject copies src into a writer bound to a child context. A failed
// copy cancels that context before Close so the partial object is discarded
// instead of committed.
func writeObject(ctx context.Context, newWriter func(context.Context) io.WriteCloser, src io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := newWriter(ctx)
	if _, err := io.Copy(w, src); err != nil {
		cancel()
		_ = w.Close()
		return classify(err)
	}
	return classify(w.Close())
}

// Copy performs a server-side copy from src to dst.
func (s *Store) Copy(ctx context.Context, src, dst blobstore.Object) error {
	_, err := s.handle(dst).CopierFrom(s.handle(src)).Run(ctx)
	return classify(err)
}

// Close closes the storage client.
func (s *Store) Close() error { return s.client.Close() }

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	case errors.Is(err, storage.ErrBucketNotExist):
		return fmt.Errorf("%w: %v", blobstore.ErrBucketNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", blobstore.ErrBucketNotFound, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", blobstore.ErrPermissionDenied, err)
		}
	}
	return err
}
