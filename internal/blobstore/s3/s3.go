// Package s3 implements blobstore.Store on S3-compatible storage (MinIO,
// AWS S3) through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"trafficetl/internal/blobstore"
)

// Scheme is the URI scheme of S3 objects.
const Scheme = "s3"

// Store wraps a minio client.
type Store struct {
	client *minio.Client
}

var _ blobstore.Store = (*Store)(nil)

func init() {
	blobstore.Register("s3", func(ctx context.Context, cfg blobstore.Config) (blobstore.Store, error) {
		if cfg.S3Endpoint == "" {
			return nil, errors.New("s3 blobstore: endpoint is required")
		}
		c, err := minio.New(cfg.S3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
			Secure: cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return &Store{client: c}, nil
	})
}

// Scheme returns "s3".
func (s *Store) Scheme() string { return Scheme }

func (s *Store) requireBucket(ctx context.Context, bucket string) error {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", bucket, blobstore.ErrBucketNotFound)
	}
	return nil
}

// Open streams obj. The object is stat'ed first because GetObject defers
// errors to the first read.
func (s *Store) Open(ctx context.Context, obj blobstore.Object) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, obj.Bucket, obj.Key, minio.StatObjectOptions{}); err != nil {
		return nil, classify(err)
	}
	o, err := s.client.GetObject(ctx, obj.Bucket, obj.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return o, nil
}

// Download writes obj to the local file dst.
func (s *Store) Download(ctx context.Context, obj blobstore.Object, dst string) error {
	return classify(s.client.FGetObject(ctx, obj.Bucket, obj.Key, dst, minio.GetObjectOptions{}))
}

// Upload writes the local file src to obj after checking the bucket exists.
// The content type follows the key's extension.
func (s *Store) Upload(ctx context.Context, src string, obj blobstore.Object) error {
	if err := s.requireBucket(ctx, obj.Bucket); err != nil {
		return err
	}
	_, err := s.client.FPutObject(ctx, obj.Bucket, obj.Key, src, putOptions(obj))
	return classify(err)
}

func putOptions(obj blobstore.Object) minio.PutObjectOptions {
	return minio.PutObjectOptions{ContentType: blobstore.ContentType(obj.Key)}
}

// Copy performs a server-side copy from src to dst.
func (s *Store) Copy(ctx context.Context, src, dst blobstore.Object) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dst.Bucket, Object: dst.Key},
		minio.CopySrcOptions{Bucket: src.Bucket, Object: src.Key},
	)
	return classify(err)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	case resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %v", blobstore.ErrBucketNotFound, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v", blobstore.ErrPermissionDenied, err)
	}
	return err
}
