// Package engine wires the migration engine components for fx.
package engine

import (
	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/engine/processor"
	"github.com/dasabhishk/st2/pkg/migration/engine/retry"
	"github.com/dasabhishk/st2/pkg/migration/engine/run"
	"github.com/dasabhishk/st2/pkg/migration/engine/updater"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
)

// NewStatusUpdater restricts status writes to the configured category tables
// and retries them with the status_update policy.
func NewStatusUpdater(store ports.StatusStore, registry *category.Registry, cfg *config.Config, recorder metrics.MetricRecorder) *updater.StatusUpdater {
	policy := retry.NewFixedPolicy(cfg.StatusUpdate.MaxAttempts, cfg.StatusUpdate.Backoff, nil)
	return updater.NewStatusUpdater(store, registry.AllowedTables(), policy, recorder)
}

var Module = fx.Options(
	fx.Provide(
		category.NewRegistryFromConfig,
		fx.Annotate(processor.NewProcessor, fx.As(new(run.GroupProcessor))),
		fx.Annotate(NewStatusUpdater, fx.As(new(run.StatusWriter))),
		run.NewRunner,
		fx.Annotate(run.NewExecutor, fx.As(new(scheduler.Executor))),
	),
)
