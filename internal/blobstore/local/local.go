// Package local implements blobstore.Store on the local filesystem. Each
// bucket is a directory under Root and keys are slash-separated paths inside
// it. It backs the "local://" source scheme and the test suites.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"trafficetl/internal/blobstore"
)

// Scheme is the URI scheme of local objects.
const Scheme = "local"

// Store is a filesystem-backed blob store.
type Store struct {
	Root string
}

var _ blobstore.Store = (*Store)(nil)

func init() {
	blobstore.Register("local", func(ctx context.Context, cfg blobstore.Config) (blobstore.Store, error) {
		if cfg.LocalRoot == "" {
			return nil, errors.New("local blobstore: root directory is required")
		}
		return New(cfg.LocalRoot)
	})
}

// New returns a store rooted at root. root must exist.
func New(root string) (*Store, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local blobstore root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("local blobstore root %s is not a directory", root)
	}
	return &Store{Root: root}, nil
}

// Scheme returns "local".
func (s *Store) Scheme() string { return Scheme }

func (s *Store) bucketDir(bucket string) (string, error) {
	dir := filepath.Join(s.Root, bucket)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", bucket, blobstore.ErrBucketNotFound)
		}
		return "", classify(err)
	}
	return dir, nil
}

func (s *Store) path(obj blobstore.Object) (string, error) {
	dir, err := s.bucketDir(obj.Bucket)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + filepath.FromSlash(obj.Key))
	if clean == string(filepath.Separator) || strings.Contains(obj.Key, "..") {
		return "", fmt.Errorf("invalid object key %q", obj.Key)
	}
	return filepath.Join(dir, clean), nil
}

// Open returns the file backing obj.
func (s *Store) Open(ctx context.Context, obj blobstore.Object) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(obj)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

// Download copies obj to the local file dst.
func (s *Store) Download(ctx context.Context, obj blobstore.Object, dst string) error {
	rc, err := s.Open(ctx, obj)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(dst, rc)
}

// Upload copies src to obj, creating parent directories inside the bucket.
// The bucket directory itself must exist.
func (s *Store) Upload(ctx context.Context, src string, obj blobstore.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(obj)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classify(err)
	}
	return writeFile(p, in)
}

// Copy copies src to dst within the root.
func (s *Store) Copy(ctx context.Context, src, dst blobstore.Object) error {
	rc, err := s.Open(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()
	p, err := s.path(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classify(err)
	}
	return writeFile(p, rc)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return classify(err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", blobstore.ErrPermissionDenied, err)
	}
	return err
}
