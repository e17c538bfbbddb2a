// Package run drives one migration of a category: fetch eligible rows,
// partition them into processing groups, process each group and write the
// resulting statuses, until the input is exhausted, the record cap is hit or
// the run is cancelled.
//
// Cancellation is only observed before a fetch and after a group's status
// updates. A group that has started is always processed and updated in full.
package run

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const runModule = "run"

// GroupProcessor processes one group of records.
type GroupProcessor interface {
	Process(ctx context.Context, d category.Descriptor, records []model.StagingRecord, maxParallelism int) model.BatchOutcome
}

// StatusWriter writes a terminal status for a set of ids.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, category string, binding model.TableBinding, ids []int64, status model.RowStatus) error
}

// Runner creates and executes migrations. It is safe to share between jobs.
type Runner struct {
	store     ports.StatusStore
	processor GroupProcessor
	updater   StatusWriter
	archiver  ports.RunArchiver
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
}

// NewRunner wires a Runner. archiver, recorder and tracer may be nil.
func NewRunner(store ports.StatusStore, processor GroupProcessor, updater StatusWriter, archiver ports.RunArchiver, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Runner {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Runner{store: store, processor: processor, updater: updater, archiver: archiver, recorder: recorder, tracer: tracer}
}

// Migration is the state of one run over one category.
type Migration struct {
	runner     *Runner
	jobID      string
	descriptor category.Descriptor
	settings   model.MigrationSettings

	processed int
	result    model.RunResult
	audit     []model.BatchAudit
}

// NewMigration prepares a run of d with settings. Zero settings fall back to
// the descriptor's configured settings.
func (r *Runner) NewMigration(jobID string, d category.Descriptor, settings model.MigrationSettings) (*Migration, error) {
	if settings == (model.MigrationSettings{}) {
		settings = d.Settings
	}
	if settings.MaxParallelism < 1 || settings.FetchBatchSize < 1 || settings.ProcessingBatchSize < 1 || settings.RecordCap < 0 {
		return nil, exception.NewMigrationErrorf(runModule, exception.KindValidation,
			"invalid settings for category %q: %+v", d.ID, settings)
	}
	logger.Infof("Initialized migration of '%s': table=%s, procedure=%s, maxParallelism=%d, fetchBatchSize=%d, processingBatchSize=%d, recordCap=%d",
		d.ID, d.Binding.QualifiedName(), d.Procedure, settings.MaxParallelism, settings.FetchBatchSize, settings.ProcessingBatchSize, settings.RecordCap)
	return &Migration{
		runner:     r,
		jobID:      jobID,
		descriptor: d,
		settings:   settings,
		result:     model.RunResult{JobID: jobID, Category: d.ID},
	}, nil
}

// Partition yields consecutive groups of size records. The last group may be smaller.
func Partition[T any](rows []T, size int) iter.Seq[[]T] {
	if size < 1 {
		size = 1
	}
	return slices.Chunk(rows, size)
}

// FetchNextBatch reads up to FetchBatchSize eligible rows.
func (m *Migration) FetchNextBatch(ctx context.Context) ([]model.StagingRecord, error) {
	rows, err := m.runner.store.FetchEligible(ctx, m.descriptor.Binding, m.settings.FetchBatchSize)
	if err != nil {
		return nil, err
	}
	m.runner.recorder.RecordFetch(ctx, m.descriptor.ID, len(rows))
	return rows, nil
}

// Run executes the fetch, process, update loop. Cancellation of ctx yields a
// successful, partial result. A fetch or status update failure aborts the run
// with an error; the partial result is still returned.
func (m *Migration) Run(ctx context.Context) (model.RunResult, error) {
	ctx, endSpan := m.runner.tracer.StartRunSpan(ctx, m.jobID, m.descriptor.ID)
	defer endSpan()

	m.result.StartedAt = time.Now()
	err := m.loop(ctx)
	m.result.FinishedAt = time.Now()

	if err != nil {
		m.runner.tracer.RecordError(ctx, runModule, err)
		logger.Errorf("Migration of '%s' (job %s) failed after %d records: %v", m.descriptor.ID, m.jobID, m.processed, err)
	} else {
		logger.Infof("Migration of '%s' (job %s) finished: batches=%d, succeeded=%d, failed=%d, cancelled=%t, capReached=%t, took %s",
			m.descriptor.ID, m.jobID, m.result.Batches, m.result.Succeeded, m.result.Failed,
			m.result.Cancelled, m.result.CapReached, m.result.Duration())
	}
	m.archive(ctx)
	return m.result, err
}

func (m *Migration) loop(ctx context.Context) error {
	d := m.descriptor
	fetchCount := 0
	for {
		if ctx.Err() != nil {
			m.markCancelled("before fetch")
			return nil
		}

		fetchCount++
		logger.Infof("Category '%s': fetch %d of up to %d rows from %s.", d.ID, fetchCount, m.settings.FetchBatchSize, d.Binding.QualifiedName())
		rows, err := m.FetchNextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				m.markCancelled("during fetch")
				return nil
			}
			return exception.NewMigrationError(runModule, exception.KindFetch,
				fmt.Sprintf("fetch from %s failed", d.Binding.QualifiedName()), err, false)
		}
		if len(rows) == 0 {
			logger.Infof("Category '%s': no eligible rows left.", d.ID)
			return nil
		}

		lastFetch := false
		if capacity := m.remaining(); capacity >= 0 && len(rows) > capacity {
			rows = rows[:capacity]
			lastFetch = true
			m.result.CapReached = true
		}

		for group := range Partition(rows, m.settings.ProcessingBatchSize) {
			if err := m.processGroup(ctx, group); err != nil {
				return err
			}
			if ctx.Err() != nil {
				m.markCancelled("after group")
				return nil
			}
			if m.remaining() == 0 {
				m.result.CapReached = true
				logger.Infof("Category '%s': record cap %d reached.", d.ID, m.settings.RecordCap)
				return nil
			}
		}
		if lastFetch {
			return nil
		}
	}
}

// processGroup runs one group and writes both status sets. Status writes are
// detached from cancellation so a started group is never left half-updated.
func (m *Migration) processGroup(ctx context.Context, group []model.StagingRecord) error {
	d := m.descriptor
	index := m.result.Batches
	groupCtx, endSpan := m.runner.tracer.StartBatchSpan(ctx, d.ID, index, len(group))
	defer endSpan()

	started := time.Now()
	logger.Infof("Category '%s': processing group %d with %d records.", d.ID, index+1, len(group))
	outcome := m.runner.processor.Process(groupCtx, d, group, m.settings.MaxParallelism)

	writeCtx := context.WithoutCancel(groupCtx)
	if err := m.runner.updater.UpdateStatus(writeCtx, d.ID, d.Binding, outcome.Succeeded, model.RowStatusMigrated); err != nil {
		m.runner.tracer.RecordError(groupCtx, runModule, err)
		return err
	}
	if err := m.runner.updater.UpdateStatus(writeCtx, d.ID, d.Binding, outcome.Failed, model.RowStatusError); err != nil {
		m.runner.tracer.RecordError(groupCtx, runModule, err)
		return err
	}

	m.processed += len(group)
	m.result.Batches++
	m.result.Succeeded += len(outcome.Succeeded)
	m.result.Failed += len(outcome.Failed)
	m.audit = append(m.audit, model.BatchAudit{
		JobID:      m.jobID,
		Category:   d.ID,
		GroupIndex: index,
		Succeeded:  len(outcome.Succeeded),
		Failed:     len(outcome.Failed),
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	m.runner.tracer.RecordEvent(groupCtx, "group.completed", map[string]interface{}{
		"succeeded": len(outcome.Succeeded),
		"failed":    len(outcome.Failed),
	})
	logger.Infof("Category '%s': group %d completed (succeeded=%d, failed=%d, total processed=%d).",
		d.ID, index+1, len(outcome.Succeeded), len(outcome.Failed), m.processed)
	return nil
}

// remaining returns how many more records the cap allows, or -1 when uncapped.
func (m *Migration) remaining() int {
	if m.settings.RecordCap == 0 {
		return -1
	}
	return max(m.settings.RecordCap-m.processed, 0)
}

func (m *Migration) markCancelled(where string) {
	m.result.Cancelled = true
	logger.Infof("Category '%s' (job %s): cancellation observed %s; %d groups with %d records completed.",
		m.descriptor.ID, m.jobID, where, m.result.Batches, m.processed)
}

func (m *Migration) archive(ctx context.Context) {
	if m.runner.archiver == nil || len(m.audit) == 0 {
		return
	}
	if err := m.runner.archiver.Archive(context.WithoutCancel(ctx), m.result, m.audit); err != nil {
		logger.Warnf("Failed to archive run audit for job %s: %v", m.jobID, err)
	}
}

// Result returns the accumulated result so far.
func (m *Migration) Result() model.RunResult {
	return m.result
}
