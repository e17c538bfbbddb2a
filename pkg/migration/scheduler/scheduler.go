// Package scheduler owns the lifecycle of migration jobs: it turns requests
// into one-shot cron entries, runs them with a bounded number of worker
// slots, tracks them by job id and answers status, cancel and listing
// queries.
//
// The scheduler itself moves through Uninitialized, Initializing, Ready,
// ShuttingDown and Stopped. Submissions are only accepted while Ready, and
// readiness is re-checked under the registry lock right before a job is
// registered.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/configbinder"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const schedulerModule = "scheduler"

// Executor runs one migration request to completion.
type Executor interface {
	Execute(ctx context.Context, jobID string, req model.MigrationRequest) (model.RunResult, error)
}

type jobPhase int32

const (
	phasePending jobPhase = iota
	phaseRunning
	phaseFinished
)

// jobEntry is one registered job.
type jobEntry struct {
	job      model.MigrationJob
	category string
	entryID  cron.EntryID
	ctx      context.Context
	cancel   context.CancelCauseFunc
	phase    atomic.Int32
	done     chan struct{}
	finish   sync.Once
}

func (e *jobEntry) currentPhase() jobPhase {
	return jobPhase(e.phase.Load())
}

// finishedJob is kept in the status history after a job leaves the registry.
type finishedJob struct {
	summary    model.JobSummary
	result     model.RunResult
	finishedAt time.Time
}

// Scheduler runs migration jobs. Create it with NewScheduler and call
// Initialize before submitting.
type Scheduler struct {
	cfg      config.SchedulerConfig
	executor Executor
	notifier ports.Notifier
	recorder metrics.MetricRecorder

	state atomic.Int32

	cron       *cron.Cron
	slots      *semaphore.Weighted
	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	// mu guards jobs, history and recurring, and serializes state changes
	// against registrations.
	mu        sync.RWMutex
	jobs      map[string]*jobEntry
	history   map[string]finishedJob
	recurring map[string]*recurringJob

	inFlight sync.WaitGroup
	now      func() time.Time
}

// NewScheduler creates an uninitialized Scheduler. notifier and recorder may be nil.
func NewScheduler(cfg config.SchedulerConfig, executor Executor, notifier ports.Notifier, recorder metrics.MetricRecorder) *Scheduler {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Scheduler{
		cfg:       cfg,
		executor:  executor,
		notifier:  notifier,
		recorder:  recorder,
		jobs:      make(map[string]*jobEntry),
		history:   make(map[string]finishedJob),
		recurring: make(map[string]*recurringJob),
		now:       time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// IsReady reports whether submissions are accepted.
func (s *Scheduler) IsReady() bool {
	return s.State() == StateReady
}

// Initialize starts the trigger engine. Calling it on a Ready scheduler is a no-op.
func (s *Scheduler) Initialize(ctx context.Context) error {
	if s.IsReady() {
		logger.Debugf("Scheduler already initialized.")
		return nil
	}
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return stateError(ErrNotReady, "cannot initialize scheduler in state %s", s.State())
	}
	if err := ctx.Err(); err != nil {
		s.state.Store(int32(StateUninitialized))
		return stateError(ErrNotInitialized, "initialization aborted: %v", err)
	}

	s.baseCtx, s.baseCancel = context.WithCancelCause(context.Background())
	s.slots = semaphore.NewWeighted(int64(s.cfg.MaxConcurrentJobs))
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
	s.cron.Start()

	s.state.Store(int32(StateReady))
	logger.Infof("Scheduler initialized (maxConcurrentJobs=%d, statusRetention=%s).", s.cfg.MaxConcurrentJobs, s.cfg.StatusRetention)
	return nil
}

// checkReady returns the scheduler-state error for the current state.
func (s *Scheduler) checkReady() error {
	switch st := s.State(); st {
	case StateReady:
		return nil
	case StateUninitialized:
		return stateError(ErrNotInitialized, "call Initialize before submitting jobs")
	default:
		return stateError(ErrNotReady, "scheduler is %s", st)
	}
}

// SubmitImmediate registers req with a run-now trigger and returns its job id.
// It does not wait for the job to run.
func (s *Scheduler) SubmitImmediate(ctx context.Context, req model.MigrationRequest) (string, error) {
	return idOf(s.submit(ctx, req, model.TriggerNow, time.Time{}))
}

// SubmitScheduled registers req with a run-at trigger firing at start. When
// it fires the job re-checks that now lies within the request window and is
// cancelled automatically at the window end.
func (s *Scheduler) SubmitScheduled(ctx context.Context, req model.MigrationRequest, start time.Time) (string, error) {
	if req.Mode != model.ModeScheduled {
		return "", exception.NewMigrationErrorf(schedulerModule, exception.KindValidation,
			"SubmitScheduled requires a scheduled request, got %s", req.Mode)
	}
	if req.ScheduledStart == nil {
		req.ScheduledStart = &start
	}
	return idOf(s.submit(ctx, req, model.TriggerAt, start))
}

func idOf(entry *jobEntry, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return entry.job.ID, nil
}

func (s *Scheduler) submit(_ context.Context, req model.MigrationRequest, trigger model.TriggerKind, fireAt time.Time) (*jobEntry, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, exception.NewMigrationError(schedulerModule, exception.KindValidation, "invalid migration request", err, false)
	}
	payload, err := configbinder.EncodeRequest(req)
	if err != nil {
		return nil, exception.NewMigrationError(schedulerModule, exception.KindInternal, "failed to encode job payload", err, false)
	}

	id := uuid.NewString()
	jobCtx, cancel := context.WithCancelCause(s.baseCtx)
	entry := &jobEntry{
		job: model.MigrationJob{
			ID:          id,
			Payload:     payload,
			Trigger:     trigger,
			FireAt:      fireAt,
			SubmittedAt: s.now(),
		},
		category: req.Category,
		ctx:      jobCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		cancel(nil)
		logger.Warnf("Scheduler state changed while submitting a %s job for '%s': %v", trigger, req.Category, err)
		return nil, err
	}
	s.inFlight.Add(1)
	s.jobs[id] = entry
	entry.entryID = s.cron.Schedule(newOnceSchedule(fireAt), cron.FuncJob(func() { s.execute(entry) }))
	s.mu.Unlock()

	switch trigger {
	case model.TriggerAt:
		logger.Infof("Scheduled migration job %s for '%s' at %s.", id, req.Category, fireAt.Format(time.RFC3339))
	case model.TriggerCron:
		logger.Infof("Submitted recurring migration job %s for '%s'.", id, req.Category)
	default:
		logger.Infof("Submitted instant migration job %s for '%s'.", id, req.Category)
	}
	return entry, nil
}

// Cancel interrupts a job and removes its trigger. A running job stops at
// its next batch boundary. It returns false when the job is not registered.
func (s *Scheduler) Cancel(_ context.Context, jobID string) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}

	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		logger.Warnf("Cancel requested for unknown job %s.", jobID)
		return false, nil
	}
	s.cron.Remove(entry.entryID)
	entry.cancel(errCancelledByUser)

	if entry.phase.CompareAndSwap(int32(phasePending), int32(phaseFinished)) {
		s.mu.Unlock()
		s.complete(entry, model.JobStatusCancelled, model.RunResult{JobID: jobID, Category: entry.category, Cancelled: true}, nil)
		logger.Infof("Cancelled job %s before it started.", jobID)
		return true, nil
	}

	// Running: unregister now, the run drains its current batch in the background.
	delete(s.jobs, jobID)
	s.history[jobID] = finishedJob{summary: s.summary(entry, model.JobStatusCancelled), finishedAt: s.now()}
	s.mu.Unlock()
	logger.Infof("Cancellation requested for running job %s; it stops after the current batch.", jobID)
	return true, nil
}

// GetStatus derives the job status from the live registry. Unknown ids are
// reported as Cancelled, and a registered job whose trigger is gone but has
// not started running is reported as Completed.
func (s *Scheduler) GetStatus(_ context.Context, jobID string) (model.JobStatus, error) {
	if s.State() == StateUninitialized {
		return model.JobStatusFailed, stateError(ErrNotInitialized, "cannot query job %s", jobID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.jobs[jobID]; ok {
		return s.liveStatus(entry), nil
	}
	if h, ok := s.history[jobID]; ok {
		return h.summary.Status, nil
	}
	return model.JobStatusCancelled, nil
}

// liveStatus must be called with mu held.
func (s *Scheduler) liveStatus(entry *jobEntry) model.JobStatus {
	switch entry.currentPhase() {
	case phaseRunning:
		return model.JobStatusRunning
	case phaseFinished:
		return model.JobStatusCompleted
	}
	if s.State() == StateReady && !s.cron.Entry(entry.entryID).Next.IsZero() {
		return model.JobStatusScheduled
	}
	return model.JobStatusCompleted
}

// ListActive returns the ids of every registered job in submission order.
func (s *Scheduler) ListActive(_ context.Context) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].job.SubmittedAt.Before(entries[j].job.SubmittedAt)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.job.ID
	}
	return ids, nil
}

// Jobs returns summaries of registered jobs and of finished jobs still in the
// status history, most recent first.
func (s *Scheduler) Jobs(_ context.Context) []model.JobSummary {
	s.mu.RLock()
	out := make([]model.JobSummary, 0, len(s.jobs)+len(s.history))
	for _, e := range s.jobs {
		out = append(out, s.summary(e, s.liveStatus(e)))
	}
	for id, h := range s.history {
		if _, live := s.jobs[id]; !live {
			out = append(out, h.summary)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Result returns the run result of a finished job.
func (s *Scheduler) Result(jobID string) (model.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[jobID]
	return h.result, ok
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, jobID string) (model.JobStatus, error) {
	s.mu.RLock()
	entry, live := s.jobs[jobID]
	h, finished := s.history[jobID]
	s.mu.RUnlock()

	if !live {
		if finished {
			return h.summary.Status, nil
		}
		return model.JobStatusCancelled, stateError(ErrJobNotFound, "job %s is not registered", jobID)
	}
	select {
	case <-entry.done:
		return s.GetStatus(ctx, jobID)
	case <-ctx.Done():
		return s.GetStatus(ctx, jobID)
	}
}

func (s *Scheduler) summary(e *jobEntry, status model.JobStatus) model.JobSummary {
	return model.JobSummary{
		ID:          e.job.ID,
		Category:    e.category,
		Status:      status,
		Trigger:     string(e.job.Trigger),
		SubmittedAt: e.job.SubmittedAt,
	}
}

// Shutdown stops accepting jobs, cancels pending and running jobs and waits
// for running jobs to finish their current batch, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	st := s.State()
	switch st {
	case StateStopped, StateShuttingDown:
		s.mu.Unlock()
		return nil
	case StateUninitialized:
		s.state.Store(int32(StateStopped))
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(StateShuttingDown))
	pending := make([]*jobEntry, 0)
	for _, e := range s.jobs {
		if e.phase.CompareAndSwap(int32(phasePending), int32(phaseFinished)) {
			pending = append(pending, e)
		}
	}
	s.mu.Unlock()

	logger.Infof("Scheduler shutting down: %d pending jobs cancelled, waiting for running jobs.", len(pending))
	s.cron.Stop()
	s.baseCancel(errShutdown)
	for _, e := range pending {
		s.complete(e, model.JobStatusCancelled, model.RunResult{JobID: e.job.ID, Category: e.category, Cancelled: true}, nil)
	}

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = exception.NewMigrationError(schedulerModule, exception.KindScheduler,
			"timed out waiting for running jobs to finish", ctx.Err(), false)
	}
	s.state.Store(int32(StateStopped))
	if err != nil {
		logger.Warnf("Scheduler stopped with jobs still running: %v", err)
		return err
	}
	logger.Infof("Scheduler stopped.")
	return nil
}
