package audit

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/dasabhishk/st2/pkg/migration/adapter/storage"
	"github.com/dasabhishk/st2/pkg/migration/adapter/storage/gcs"
	"github.com/dasabhishk/st2/pkg/migration/adapter/storage/local"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// NewObjectStore opens the store named by audit.storage.
func NewObjectStore(ctx context.Context, cfg config.AuditConfig) (storage.ObjectStore, error) {
	switch cfg.Storage {
	case local.Type:
		return local.NewAdapter(cfg.BaseDir)
	case gcs.Type:
		return gcs.NewAdapter(ctx, cfg.Bucket, cfg.CredentialsFile)
	}
	return nil, fmt.Errorf("unsupported audit storage %q", cfg.Storage)
}

// NewArchiver returns a ParquetArchiver when auditing is enabled.
func NewArchiver(lc fx.Lifecycle, cfg *config.Config) (ports.RunArchiver, error) {
	if !cfg.Audit.Enabled {
		return NoOpArchiver{}, nil
	}
	store, err := NewObjectStore(context.Background(), cfg.Audit)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})

	// Local storage has no buckets; for gcs the default bucket is used.
	return NewParquetArchiver(store, "", cfg.Audit.Prefix), nil
}

var Module = fx.Options(
	fx.Provide(NewArchiver),
)
