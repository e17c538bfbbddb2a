package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// RequestBuilder produces the request submitted on every tick of a recurring job.
type RequestBuilder func() (model.MigrationRequest, error)

type recurringJob struct {
	name    string
	spec    string
	entryID cron.EntryID
	lastJob string
	last    *jobEntry
}

// RecurringInfo describes a registered recurring job.
type RecurringInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"cron"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev,omitempty"`
	LastJob string    `json:"last_job,omitempty"`
}

// AddRecurring submits a job built by build on every tick of spec. A tick is
// skipped until the job of the previous tick has finished, including a
// cancelled job still draining its current group.
func (s *Scheduler) AddRecurring(name, spec string, build RequestBuilder) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return exception.NewMigrationError(schedulerModule, exception.KindConfiguration,
			"invalid recurring schedule "+name, err, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.recurring[name]; dup {
		return exception.NewMigrationErrorf(schedulerModule, exception.KindConfiguration, "recurring job %q already registered", name)
	}
	rj := &recurringJob{name: name, spec: spec}
	rj.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.tick(rj, build) }))
	s.recurring[name] = rj
	logger.Infof("Registered recurring job '%s' with schedule '%s'.", name, spec)
	return nil
}

func (s *Scheduler) tick(rj *recurringJob, build RequestBuilder) {
	s.mu.RLock()
	prev := rj.last
	s.mu.RUnlock()
	if prev != nil {
		select {
		case <-prev.done:
		default:
			logger.Warnf("Recurring job '%s': previous run %s is still active, skipping this tick.", rj.name, prev.job.ID)
			return
		}
	}

	req, err := build()
	if err != nil {
		logger.Errorf("Recurring job '%s': could not build request: %v", rj.name, err)
		return
	}
	entry, err := s.submit(context.Background(), req, model.TriggerCron, time.Time{})
	if err != nil {
		logger.Errorf("Recurring job '%s': submission failed: %v", rj.name, err)
		return
	}
	s.mu.Lock()
	rj.lastJob, rj.last = entry.job.ID, entry
	s.mu.Unlock()
}

// Recurring lists the registered recurring jobs sorted by name.
func (s *Scheduler) Recurring() []RecurringInfo {
	s.mu.RLock()
	jobs := make([]recurringJob, 0, len(s.recurring))
	for _, rj := range s.recurring {
		jobs = append(jobs, *rj)
	}
	s.mu.RUnlock()

	out := make([]RecurringInfo, 0, len(jobs))
	for _, rj := range jobs {
		info := RecurringInfo{Name: rj.name, Spec: rj.spec, LastJob: rj.lastJob}
		if s.cron != nil {
			e := s.cron.Entry(rj.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
