// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dasabhishk/st2/pkg/migration/adapter/storage"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Type is the storage type name of this adapter.
const Type = "gcs"

// Adapter implements storage.ObjectStore on a GCS client. An empty bucket
// argument falls back to the default bucket.
type Adapter struct {
	client        *gcstorage.Client
	defaultBucket string
}

var _ storage.ObjectStore = (*Adapter)(nil)

// NewAdapter creates a GCS client. credentialsFile may be empty to use
// application default credentials.
func NewAdapter(ctx context.Context, defaultBucket, credentialsFile string, opts ...option.ClientOption) (*Adapter, error) {
	if defaultBucket == "" {
		return nil, errors.New("gcs storage: bucket must be specified")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: failed to create client: %w", err)
	}
	return &Adapter{client: client, defaultBucket: defaultBucket}, nil
}

func (a *Adapter) Type() string { return Type }

func (a *Adapter) Close() error { return a.client.Close() }

func (a *Adapter) bucket(name string) *gcstorage.BucketHandle {
	if name == "" {
		name = a.defaultBucket
	}
	return a.client.Bucket(name)
}

func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: failed to upload '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: failed to finalize '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s.", w.Bucket, objectName)
	return nil
}

func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to open '%s': %w", objectName, err)
	}
	return r, nil
}

func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs: failed to list prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.bucket(bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: failed to delete '%s': %w", objectName, err)
	}
	return nil
}
