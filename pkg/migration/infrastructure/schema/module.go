package schema

import (
	"context"

	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
)

// Module provides the Migrator and runs it on start when schema.auto_migrate is set.
var Module = fx.Options(
	fx.Provide(NewMigrator),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, m *Migrator) {
		if !cfg.Schema.AutoMigrate {
			return
		}
		lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		}})
	}),
)
