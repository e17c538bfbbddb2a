// Package manager is the entry point used by the CLI and the HTTP API. It
// validates start requests, makes sure the scheduler is ready, derives the
// run settings of a category from configuration and submits the job.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/engine/retry"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const managerModule = "manager"

// JobScheduler is the part of *scheduler.Scheduler the manager drives.
type JobScheduler interface {
	IsReady() bool
	SubmitImmediate(ctx context.Context, req model.MigrationRequest) (string, error)
	SubmitScheduled(ctx context.Context, req model.MigrationRequest, start time.Time) (string, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	GetStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	ListActive(ctx context.Context) ([]string, error)
	Jobs(ctx context.Context) []model.JobSummary
	Wait(ctx context.Context, jobID string) (model.JobStatus, error)
	Result(jobID string) (model.RunResult, bool)
	AddRecurring(name, spec string, build scheduler.RequestBuilder) error
	Recurring() []scheduler.RecurringInfo
}

var _ JobScheduler = (*scheduler.Scheduler)(nil)

// StartRequest is what a caller supplies to start a migration.
type StartRequest struct {
	Category string
	Mode     model.ExecutionMode
	Start    *time.Time
	End      *time.Time
	// Settings overrides the configured settings when non-zero.
	Settings  model.MigrationSettings
	CreatedBy string
}

// CategoryInfo describes a configured category for listings.
type CategoryInfo struct {
	ID          string                  `json:"id"`
	DisplayName string                  `json:"display_name"`
	Table       string                  `json:"table"`
	Procedure   string                  `json:"procedure"`
	Settings    model.MigrationSettings `json:"settings"`
}

// Manager coordinates requests, the scheduler and reporting.
type Manager struct {
	cfg       *config.Config
	registry  *category.Registry
	scheduler JobScheduler
	reporter  ports.Reporter
	readiness retry.Policy
	now       func() time.Time
}

// NewManager creates a Manager. The readiness probe is retried
// scheduler.readiness_retries times with a fixed scheduler.readiness_backoff.
func NewManager(cfg *config.Config, registry *category.Registry, sched JobScheduler, reporter ports.Reporter) *Manager {
	retries := cfg.Scheduler.ReadinessRetries
	if retries < 1 {
		retries = 3
	}
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		scheduler: sched,
		reporter:  reporter,
		readiness: retry.NewFixedPolicy(retries, cfg.Scheduler.ReadinessBackoff, func(err error) bool {
			return exception.IsKind(err, exception.KindScheduler)
		}),
		now: time.Now,
	}
}

// Start validates req, waits for the scheduler and submits the migration.
// It returns the job id without waiting for the run.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	logger.Infof("Starting %s migration of '%s'.", req.Mode, req.Category)

	if err := validateStart(req); err != nil {
		logger.Errorf("Rejected migration request for '%s': %v", req.Category, err)
		return "", err
	}
	d, err := m.registry.Lookup(req.Category)
	if err != nil {
		return "", err
	}
	if err := m.EnsureReady(ctx); err != nil {
		return "", err
	}

	migration := m.buildRequest(d, req)
	var jobID string
	if migration.Mode == model.ModeScheduled {
		logger.Infof("Scheduling '%s' for window %s - %s.", d.ID, req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
		jobID, err = m.scheduler.SubmitScheduled(ctx, migration, *req.Start)
	} else {
		jobID, err = m.scheduler.SubmitImmediate(ctx, migration)
	}
	if err != nil {
		logger.Errorf("Failed to submit %s migration of '%s': %v", migration.Mode, d.ID, err)
		return "", err
	}
	logger.Infof("Submitted %s migration of '%s' as job %s.", migration.Mode, d.ID, jobID)
	return jobID, nil
}

func validateStart(req StartRequest) error {
	switch req.Mode {
	case model.ModeInstant:
		return nil
	case model.ModeScheduled:
		if req.Start == nil || req.End == nil {
			return exception.NewMigrationError(managerModule, exception.KindValidation,
				"scheduled migration requires both start and end times", nil, false)
		}
		if !req.Start.Before(*req.End) {
			return exception.NewMigrationErrorf(managerModule, exception.KindValidation,
				"end time %s must be after start time %s", req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
		}
		return nil
	}
	return exception.NewMigrationErrorf(managerModule, exception.KindValidation, "unknown execution mode %q", req.Mode)
}

// Settings returns the run settings configured for a category.
func (m *Manager) Settings(categoryID string) (model.MigrationSettings, error) {
	d, err := m.registry.Lookup(categoryID)
	if err != nil {
		return model.MigrationSettings{}, err
	}
	return d.Settings, nil
}

func (m *Manager) buildRequest(d category.Descriptor, req StartRequest) model.MigrationRequest {
	settings := d.Settings
	if req.Settings != (model.MigrationSettings{}) {
		settings = mergeSettings(settings, req.Settings)
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	out := model.MigrationRequest{
		Category:  d.ID,
		Mode:      req.Mode,
		Settings:  settings,
		CreatedBy: createdBy,
		CreatedAt: m.now(),
	}
	if req.Mode == model.ModeScheduled {
		out.ScheduledStart, out.ScheduledEnd = req.Start, req.End
	}
	return out
}

// mergeSettings applies the non-zero fields of override over base.
func mergeSettings(base, override model.MigrationSettings) model.MigrationSettings {
	if override.MaxParallelism > 0 {
		base.MaxParallelism = override.MaxParallelism
	}
	if override.FetchBatchSize > 0 {
		base.FetchBatchSize = override.FetchBatchSize
	}
	if override.ProcessingBatchSize > 0 {
		base.ProcessingBatchSize = override.ProcessingBatchSize
	}
	if override.RecordCap > 0 {
		base.RecordCap = override.RecordCap
	}
	return base
}

// EnsureReady probes the scheduler until it is ready and can list its jobs,
// retrying with the configured fixed backoff.
func (m *Manager) EnsureReady(ctx context.Context) error {
	err := retry.Do(ctx, "scheduler readiness probe", m.readiness, func(ctx context.Context, attempt int) error {
		logger.Debugf("Checking scheduler readiness (attempt %d/%d).", attempt, m.readiness.MaxAttempts())
		if !m.scheduler.IsReady() {
			return exception.NewMigrationError(managerModule, exception.KindScheduler, "scheduler is not ready", scheduler.ErrNotReady, true)
		}
		active, err := m.scheduler.ListActive(ctx)
		if err != nil {
			return err
		}
		logger.Debugf("Scheduler verified with %d active jobs.", len(active))
		return nil
	})
	if err != nil {
		logger.Errorf("Scheduler did not become ready after %d attempts: %v", m.readiness.MaxAttempts(), err)
	}
	return err
}

// Stop cancels one job, or every active job when jobID is empty. The result
// is true only if every cancellation succeeded.
func (m *Manager) Stop(ctx context.Context, jobID string) (bool, error) {
	if jobID != "" {
		ok, err := m.scheduler.Cancel(ctx, jobID)
		if err != nil {
			logger.Errorf("Failed to cancel job %s: %v", jobID, err)
			return false, err
		}
		if ok {
			logger.Infof("Cancelled migration job %s.", jobID)
		}
		return ok, nil
	}

	active, err := m.scheduler.ListActive(ctx)
	if err != nil {
		logger.Errorf("Failed to list active jobs: %v", err)
		return false, err
	}
	allCancelled := true
	var errs *multierror.Error
	for _, id := range active {
		ok, err := m.scheduler.Cancel(ctx, id)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %s: %w", id, err))
		}
		allCancelled = allCancelled && ok && err == nil
	}
	logger.Infof("Attempted to cancel %d active migration jobs (all cancelled: %t).", len(active), allCancelled)
	return allCancelled, errs.ErrorOrNil()
}

// Status returns the status of a job.
func (m *Manager) Status(ctx context.Context, jobID string) (model.JobStatus, error) {
	status, err := m.scheduler.GetStatus(ctx, jobID)
	if err != nil {
		logger.Errorf("Failed to get status of job %s: %v", jobID, err)
		return model.JobStatusFailed, err
	}
	return status, nil
}

// ListActive returns the registered job ids.
func (m *Manager) ListActive(ctx context.Context) ([]string, error) {
	return m.scheduler.ListActive(ctx)
}

// Jobs returns summaries of active and recently finished jobs.
func (m *Manager) Jobs(ctx context.Context) []model.JobSummary {
	return m.scheduler.Jobs(ctx)
}

// Wait blocks until the job is finished and returns its final status and result.
func (m *Manager) Wait(ctx context.Context, jobID string) (model.JobStatus, model.RunResult, error) {
	status, err := m.scheduler.Wait(ctx, jobID)
	result, _ := m.scheduler.Result(jobID)
	return status, result, err
}

// Result returns the run result of a finished job.
func (m *Manager) Result(jobID string) (model.RunResult, bool) {
	return m.scheduler.Result(jobID)
}

// Categories lists the configured categories.
func (m *Manager) Categories() []CategoryInfo {
	ids := m.registry.IDs()
	out := make([]CategoryInfo, 0, len(ids))
	for _, id := range ids {
		d, err := m.registry.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, CategoryInfo{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			Table:       d.Binding.QualifiedName(),
			Procedure:   d.Procedure,
			Settings:    d.Settings,
		})
	}
	return out
}

// Summary returns row counts per source file and status for a category.
func (m *Manager) Summary(ctx context.Context, categoryID string) ([]ports.StatusCount, error) {
	d, err := m.registry.Lookup(categoryID)
	if err != nil {
		return nil, err
	}
	if m.reporter == nil {
		return nil, errors.New("reporting is not configured")
	}
	return m.reporter.Summary(ctx, d.Binding)
}

// ErrorCounts returns error log rows per source file logged in [from, to].
func (m *Manager) ErrorCounts(ctx context.Context, from, to time.Time) ([]ports.ErrorCount, error) {
	if m.reporter == nil {
		return nil, errors.New("reporting is not configured")
	}
	if to.Before(from) {
		return nil, exception.NewMigrationErrorf(managerModule, exception.KindValidation, "range end %s is before start %s",
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return m.reporter.ErrorCounts(ctx, from, to)
}

// StartRecurring registers the enabled recurring jobs from configuration.
func (m *Manager) StartRecurring(ctx context.Context) error {
	var errs *multierror.Error
	for _, job := range m.cfg.Scheduler.Recurring {
		if !job.Enabled {
			logger.Infof("Skipping disabled recurring job '%s'.", job.Name)
			continue
		}
		if err := m.EnsureReady(ctx); err != nil {
			return err
		}
		d, err := m.registry.Lookup(job.Category)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		name := job.Name
		build := func() (model.MigrationRequest, error) {
			return m.buildRequest(d, StartRequest{Category: d.ID, Mode: model.ModeInstant, CreatedBy: "recurring:" + name}), nil
		}
		if err := m.scheduler.AddRecurring(job.Name, job.Cron, build); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Recurring lists the registered recurring jobs.
func (m *Manager) Recurring() []scheduler.RecurringInfo {
	return m.scheduler.Recurring()
}
