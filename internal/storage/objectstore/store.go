// Package objectstore reads and writes recordings and reports in S3-compatible
// buckets.
package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Store is the subset of S3 the harness needs: fixture download and artifact upload.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	VersionID    string
	ContentType  string
	LastModified time.Time
}

// Checksum identifies the object content for cache validation. It is empty when
// the server returned no ETag.
func (i ObjectInfo) Checksum() string {
	etag := strings.Trim(strings.TrimSpace(i.ETag), `"`)
	if etag == "" {
		return ""
	}
	return "etag:" + etag
}
