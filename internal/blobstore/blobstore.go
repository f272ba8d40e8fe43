// Package blobstore is the object-storage abstraction used by the pipeline
// for downloading remote sources, backing up originals and staging the
// transformed CSV.
//
// Concrete backends live in subpackages and register themselves in init;
// import blobstore/all to make every backend available.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// Object addresses one blob.
type Object struct {
	Bucket string
	Key    string
}

// URI renders the object as scheme://bucket/key.
func (o Object) URI(scheme string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, o.Bucket, o.Key)
}

// ContentType returns the media type written with an uploaded object, chosen
// by the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// Backends classify their native errors into these sentinels so callers
// can produce actionable messages without knowing the backend.
var (
	ErrNotFound         = errors.New("object not found")
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is a blob store client.
type Store interface {
	// Scheme is the URI scheme objects of this store are written with.
	Scheme() string
	// Download copies obj to the local file dst.
	Download(ctx context.Context, obj Object, dst string) error
	// Upload copies the local file src to obj, replacing it.
	Upload(ctx context.Context, src string, obj Object) error
	// Copy performs a server-side copy.
	Copy(ctx context.Context, src, dst Object) error
	// Open streams obj.
	Open(ctx context.Context, obj Object) (io.ReadCloser, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind string // gcs, s3 or local

	// gcs
	Project         string
	CredentialsFile string

	// s3
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	// local
	LocalRoot string
}

// Factory builds a Store from cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering the same kind
// again replaces the previous factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported blobstore kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
