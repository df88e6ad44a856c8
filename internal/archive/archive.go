// Package archive defines the blob store used to keep raw crawled pages.
package archive

import (
	"context"
	"io"
)

// BlobStore persists raw page snapshots and returns a URI for each one.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
