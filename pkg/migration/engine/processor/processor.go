// Package processor runs one processing group of staging records against the
// target procedure with bounded parallelism.
package processor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const processorModule = "processor"

// Processor invokes the category procedure once per record and partitions
// the records into succeeded and failed ids.
type Processor struct {
	invoker  ports.ProcedureInvoker
	errorLog ports.ErrorLogWriter
	recorder metrics.MetricRecorder
	now      func() time.Time
}

// NewProcessor creates a Processor. A nil recorder disables metrics.
func NewProcessor(invoker ports.ProcedureInvoker, errorLog ports.ErrorLogWriter, recorder metrics.MetricRecorder) *Processor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Processor{invoker: invoker, errorLog: errorLog, recorder: recorder, now: time.Now}
}

// outcomeCollector is the concurrency-safe accumulator shared by the workers.
type outcomeCollector struct {
	mu        sync.Mutex
	succeeded []int64
	failed    []int64
}

func (c *outcomeCollector) add(id int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.succeeded = append(c.succeeded, id)
	} else {
		c.failed = append(c.failed, id)
	}
}

func (c *outcomeCollector) outcome() model.BatchOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	slices.Sort(c.succeeded)
	slices.Sort(c.failed)
	return model.BatchOutcome{Succeeded: c.succeeded, Failed: c.failed}
}

// Process attempts every record and returns once all of them have finished.
// At most maxParallelism calls are in flight. A failing record is logged to
// the error log and never affects its siblings.
//
// Calls run detached from ctx cancellation: a cancelled run still lets the
// group finish so its status update covers every record. Request values and
// spans in ctx are kept.
func (p *Processor) Process(ctx context.Context, d category.Descriptor, records []model.StagingRecord, maxParallelism int) model.BatchOutcome {
	if len(records) == 0 {
		return model.BatchOutcome{}
	}
	if maxParallelism < 1 {
		maxParallelism = 1
	}
	start := p.now()
	workCtx := context.WithoutCancel(ctx)
	collector := &outcomeCollector{
		succeeded: make([]int64, 0, len(records)),
		failed:    make([]int64, 0),
	}

	var g errgroup.Group
	g.SetLimit(maxParallelism)
	for _, rec := range records {
		g.Go(func() error {
			collector.add(rec.ID, p.processRecord(workCtx, d, rec))
			return nil
		})
	}
	_ = g.Wait()

	outcome := collector.outcome()
	p.recorder.RecordBatch(ctx, d.ID, outcome, p.now().Sub(start))
	logger.Debugf("Category '%s': processed group of %d records (succeeded=%d, failed=%d) in %s.",
		d.ID, len(records), len(outcome.Succeeded), len(outcome.Failed), p.now().Sub(start))
	return outcome
}

func (p *Processor) processRecord(ctx context.Context, d category.Descriptor, rec model.StagingRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			p.logFailure(ctx, d, rec, fmt.Sprintf("panic while processing record id=%d: %v", rec.ID, r))
		}
	}()

	inv, err := d.Invocation(rec)
	if err != nil {
		p.logFailure(ctx, d, rec, fmt.Sprintf("could not build parameters for record id=%d: %v", rec.ID, err))
		return false
	}

	callStart := p.now()
	result, err := p.invoker.Invoke(ctx, inv)
	elapsed := p.now().Sub(callStart)
	if err != nil {
		p.recorder.RecordProcedureCall(ctx, d.ID, model.NullReturnCode, elapsed)
		p.logFailure(ctx, d, rec, fmt.Sprintf("call to %s failed for record id=%d: %s",
			inv.Procedure, rec.ID, exception.ExtractErrorMessage(err)))
		return false
	}
	p.recorder.RecordProcedureCall(ctx, d.ID, result.Code, elapsed)
	if !result.Succeeded() {
		p.logFailure(ctx, d, rec, fmt.Sprintf("%s returned code %d for record id=%d: %s",
			inv.Procedure, result.Code, rec.ID, d.Messages.Resolve(result.Code)))
		return false
	}
	return true
}

// logFailure writes one error log row. A failed write is logged and otherwise ignored.
func (p *Processor) logFailure(ctx context.Context, d category.Descriptor, rec model.StagingRecord, message string) {
	logger.Warnf("Category '%s' file '%s' row %d: %s", d.ID, rec.FileName, rec.RowNumber, message)
	if p.errorLog == nil {
		return
	}
	entry := model.ErrorLogEntry{
		Category:  d.ID,
		RecordID:  rec.ID,
		FileName:  rec.FileName,
		RowNumber: rec.RowNumber,
		Message:   message,
		LoggedAt:  p.now().UTC(),
	}
	if err := p.errorLog.Write(ctx, entry); err != nil {
		logger.Errorf("Failed to write error log for record id=%d (%s row %d): %v", rec.ID, rec.FileName, rec.RowNumber, err)
	}
}
