// Package objectstore keeps uploaded document bytes in an S3-compatible
// bucket.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is the subset of bucket operations the document handlers need.
type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
