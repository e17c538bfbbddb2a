package run

import (
	"context"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
)

// Executor runs a migration request to completion. It is what a scheduled job invokes.
type Executor struct {
	runner   *Runner
	registry *category.Registry
}

// NewExecutor creates an Executor resolving categories from registry.
func NewExecutor(runner *Runner, registry *category.Registry) *Executor {
	return &Executor{runner: runner, registry: registry}
}

// Execute looks up the request's category and runs it with the request settings.
func (e *Executor) Execute(ctx context.Context, jobID string, req model.MigrationRequest) (model.RunResult, error) {
	d, err := e.registry.Lookup(req.Category)
	if err != nil {
		return model.RunResult{JobID: jobID, Category: req.Category}, err
	}
	m, err := e.runner.NewMigration(jobID, d, req.Settings)
	if err != nil {
		return model.RunResult{JobID: jobID, Category: d.ID}, err
	}
	return m.Run(ctx)
}
