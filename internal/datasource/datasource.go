// Package datasource describes where a pipeline's source file lives and how to
// open it.
//
// A source is addressed by a single URI. Object-store schemes ("gs", "s3",
// "local") name an object in a Blob Store by bucket and key; "file://" or a
// plain filesystem path names a file on the local disk.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Source opens the raw bytes of an input.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Object-store schemes accepted in a source URI.
const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeLocal = "local"
)

var remoteSchemes = map[string]struct{}{
	SchemeGCS:   {},
	SchemeS3:    {},
	SchemeLocal: {},
}

// Location is a parsed source URI. Exactly one of (Bucket, Key) or Path is set.
type Location struct {
	// Scheme is the object-store scheme, empty for local files.
	Scheme string
	Bucket string
	Key    string

	// Path is the local filesystem path when Scheme is empty.
	Path string
}

// ParseLocation parses raw into a Location.
//
//	gs://bucket/raw_data/traffic.xls  -> remote object
//	s3://bucket/traffic.xlsx          -> remote object
//	file:///data/traffic.xls          -> local file
//	data/traffic.xls                  -> local file
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("source location is empty")
	}
	if p, ok := strings.CutPrefix(raw, "file://"); ok {
		if p == "" {
			return Location{}, fmt.Errorf("source location %q has no path", raw)
		}
		return Location{Path: p}, nil
	}
	if !strings.Contains(raw, "://") {
		return Location{Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse source location %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if _, ok := remoteSchemes[scheme]; !ok {
		return Location{}, fmt.Errorf("source location %q: unsupported scheme %q (want gs, s3, local or file)", raw, u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("source location %q must be %s://<bucket>/<key>", raw, scheme)
	}
	return Location{Scheme: scheme, Bucket: u.Host, Key: key}, nil
}

// IsRemote reports whether the location names an object-store object.
func (l Location) IsRemote() bool { return l.Scheme != "" }

// Ext returns the lower-cased file extension including the dot (".xls").
func (l Location) Ext() string {
	if l.IsRemote() {
		return strings.ToLower(path.Ext(l.Key))
	}
	return strings.ToLower(filepath.Ext(l.Path))
}

func (l Location) String() string {
	if l.IsRemote() {
		return l.Scheme + "://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}
