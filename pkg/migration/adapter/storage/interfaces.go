// Package storage defines the object store abstraction used for run audits.
// Buckets map to directories for the local adapter.
package storage

import (
	"context"
	"io"
)

// ObjectStore uploads, downloads, lists and deletes objects.
type ObjectStore interface {
	// Upload writes data to bucket/objectName.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Missing objects are not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	Type() string
	Close() error
}
