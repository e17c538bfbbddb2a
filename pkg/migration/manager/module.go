package manager

import (
	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
)

// NewModuleManager adapts NewManager to the concrete scheduler provided by fx.
func NewModuleManager(cfg *config.Config, registry *category.Registry, sched *scheduler.Scheduler, reporter ports.Reporter) *Manager {
	return NewManager(cfg, registry, sched, reporter)
}

var Module = fx.Options(
	fx.Provide(NewModuleManager),
)
