package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/support/util/configbinder"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// execute is the cron job body of every migration job.
func (s *Scheduler) execute(entry *jobEntry) {
	if !entry.phase.CompareAndSwap(int32(phasePending), int32(phaseRunning)) {
		return
	}
	id := entry.job.ID
	correlation := uuid.NewString()[:8]
	started := s.now()
	logger.Infof("[%s] Starting migration job %s (%s trigger).", correlation, id, entry.job.Trigger)

	req, err := configbinder.DecodeRequest(entry.job.Payload)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		err = exception.NewMigrationError(schedulerModule, exception.KindValidation, "invalid job payload", err, false)
		logger.Errorf("[%s] Job %s rejected: %v", correlation, id, err)
		s.complete(entry, model.JobStatusFailed, model.RunResult{JobID: id, Category: entry.category}, err)
		return
	}

	ctx := entry.ctx
	if req.Mode == model.ModeScheduled {
		if now := s.now(); !req.InWindow(now) {
			logger.Warnf("[%s] Job %s fired at %s outside its window [%s, %s]; skipping.", correlation, id,
				now.Format(time.RFC3339), req.ScheduledStart.Format(time.RFC3339), req.ScheduledEnd.Format(time.RFC3339))
			s.complete(entry, model.JobStatusCompleted, model.RunResult{JobID: id, Category: req.Category, Skipped: true}, nil)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadlineCause(ctx, *req.ScheduledEnd, errWindowExpired)
		defer cancel()
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		logger.Infof("[%s] Job %s cancelled while waiting for a worker slot: %v", correlation, id, context.Cause(ctx))
		s.complete(entry, model.JobStatusCancelled, model.RunResult{JobID: id, Category: req.Category, Cancelled: true}, nil)
		return
	}
	defer s.slots.Release(1)

	s.recorder.RecordJobStart(ctx, id, req.Category)
	result, err := s.executor.Execute(ctx, id, req)

	status := model.JobStatusCompleted
	switch {
	case err != nil:
		status = model.JobStatusFailed
	case result.Cancelled:
		status = model.JobStatusCancelled
		logger.Infof("[%s] Job %s stopped early: %v", correlation, id, context.Cause(ctx))
	}
	logger.Infof("[%s] Job %s finished with status %s after %s.", correlation, id, status, s.now().Sub(started).Round(time.Millisecond))
	s.complete(entry, status, result, err)
}

// complete unregisters a job, records it in the status history and publishes
// its completion in the background. It runs once per job.
func (s *Scheduler) complete(entry *jobEntry, status model.JobStatus, result model.RunResult, runErr error) {
	entry.finish.Do(func() {
		id := entry.job.ID
		if errors.Is(context.Cause(entry.ctx), errCancelledByUser) && runErr == nil {
			status = model.JobStatusCancelled
		}
		entry.phase.Store(int32(phaseFinished))

		now := s.now()
		s.mu.Lock()
		if cur, ok := s.jobs[id]; ok && cur == entry {
			delete(s.jobs, id)
		}
		if s.cron != nil {
			s.cron.Remove(entry.entryID)
		}
		s.history[id] = finishedJob{summary: s.summary(entry, status), result: result, finishedAt: now}
		s.pruneHistoryLocked(now)
		s.mu.Unlock()

		entry.cancel(nil)
		close(entry.done)

		duration := time.Duration(0)
		if !result.StartedAt.IsZero() {
			duration = result.Duration()
		}
		notifyCtx := context.WithoutCancel(entry.ctx)
		s.recorder.RecordJobEnd(notifyCtx, id, entry.category, status, duration)
		if s.notifier != nil {
			completion := model.JobCompletion{
				JobID:     id,
				Category:  entry.category,
				Status:    status,
				Succeeded: result.Succeeded,
				Failed:    result.Failed,
				Skipped:   result.Skipped,
				Duration:  duration,
			}
			if runErr != nil {
				completion.Error = exception.ExtractErrorMessage(runErr)
			}
			// Shutdown drains pending notifications through inFlight.
			s.inFlight.Add(1)
			go func() {
				defer s.inFlight.Done()
				s.notifier.NotifyJobCompletion(notifyCtx, completion)
			}()
		}
		s.inFlight.Done()
	})
}

// pruneHistoryLocked drops finished jobs older than the retention. mu must be held.
func (s *Scheduler) pruneHistoryLocked(now time.Time) {
	if s.cfg.StatusRetention <= 0 {
		return
	}
	for id, h := range s.history {
		if now.Sub(h.finishedAt) > s.cfg.StatusRetention {
			delete(s.history, id)
		}
	}
}
