// Package app assembles the migrator from its fx modules.
package app

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/dasabhishk/st2/internal/api"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/engine"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/audit"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/metrics"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/notification"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/schema"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/staging"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/target"
	"github.com/dasabhishk/st2/pkg/migration/manager"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"

	// Dialects register themselves with the gorm adapter.
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/mysql"
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/postgres"
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/sqlite"
)

// Options locate the configuration sources.
type Options struct {
	EnvFilePath    string
	ConfigFilePath string
	EmbeddedConfig config.EmbeddedConfig
}

// Modules returns every module needed to run migrations.
func Modules(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(
			opts.EmbeddedConfig,
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(opts.ConfigFilePath, fx.ResultTags(`name:"configFilePath"`)),
		),
		logger.Module,
		config.Module,
		gormadapter.Module,
		schema.Module,
		metrics.Module,
		staging.Module,
		target.Module,
		audit.Module,
		notification.Module,
		engine.Module,
		scheduler.Module,
		manager.Module,
	)
}

// Run starts the container, calls fn with the manager and stops the
// container once fn returns. Errors from fn and from stopping are combined.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, m *manager.Manager) error, extra ...fx.Option) error {
	var m *manager.Manager
	application := fx.New(
		Modules(opts),
		fx.Options(extra...),
		fx.Populate(&m),
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, application.StartTimeout())
	defer cancelStart()
	if err := application.Start(startCtx); err != nil {
		logger.Errorf("Failed to start the application: %v", err)
		return err
	}

	runErr := fn(ctx, m)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), application.StopTimeout())
	defer cancelStop()
	stopErr := application.Stop(stopCtx)
	if stopErr != nil {
		logger.Errorf("Application did not stop cleanly: %v", stopErr)
	}
	return multierror.Append(runErr, stopErr).ErrorOrNil()
}

// Serve runs the scheduler, the recurring jobs and the HTTP API until ctx
// is cancelled.
func Serve(ctx context.Context, opts Options) error {
	return Run(ctx, opts, func(ctx context.Context, m *manager.Manager) error {
		if err := m.StartRecurring(ctx); err != nil {
			logger.Errorf("Some recurring jobs could not be registered: %v", err)
		}
		logger.Infof("Migrator is running. Waiting for a shutdown signal.")
		<-ctx.Done()
		logger.Warnf("Shutdown requested; stopping active migrations.")
		if _, err := m.Stop(context.Background(), ""); err != nil {
			logger.Errorf("Failed to stop active migrations: %v", err)
		}
		return nil
	}, api.Module)
}
