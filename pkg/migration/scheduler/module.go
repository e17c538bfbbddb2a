package scheduler

import (
	"context"

	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// Params are the dependencies of the scheduler.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.SchedulerConfig
	Executor  Executor
	Notifier  ports.Notifier
	Recorder  metrics.MetricRecorder
}

// NewModuleScheduler creates the Scheduler, initializes it on start and shuts it down on stop.
func NewModuleScheduler(p Params) *Scheduler {
	s := NewScheduler(*p.Config, p.Executor, p.Notifier, p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStart: s.Initialize,
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
	return s
}

var Module = fx.Options(
	fx.Provide(NewModuleScheduler),
)
