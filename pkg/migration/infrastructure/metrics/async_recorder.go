package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	coremetrics "github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

type eventType int

const (
	eventJobStart eventType = iota
	eventJobEnd
	eventFetch
	eventProcedureCall
	eventBatch
	eventStatusUpdate
	eventDuration
)

// metricEvent carries one recorder call across the queue.
type metricEvent struct {
	kind      eventType
	jobID     string
	category  string
	name      string
	status    model.JobStatus
	rowStatus model.RowStatus
	count     int
	code      int
	outcome   model.BatchOutcome
	duration  time.Duration
	tags      map[string]string
}

// AsyncMetricRecorder queues recorder calls and applies them on a single
// goroutine. Events are dropped with a warning when the queue is full.
type AsyncMetricRecorder struct {
	eventQueue chan metricEvent
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	delegate   coremetrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker goroutine. bufferSize <= 0 uses 100.
func NewAsyncMetricRecorder(bufferSize int, delegate coremetrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue: make(chan metricEvent, bufferSize),
		stopCh:     make(chan struct{}),
		delegate:   delegate,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: worker started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.apply(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.apply(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: worker stopped after draining %d events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) apply(e metricEvent) {
	ctx := context.Background()
	switch e.kind {
	case eventJobStart:
		r.delegate.RecordJobStart(ctx, e.jobID, e.category)
	case eventJobEnd:
		r.delegate.RecordJobEnd(ctx, e.jobID, e.category, e.status, e.duration)
	case eventFetch:
		r.delegate.RecordFetch(ctx, e.category, e.count)
	case eventProcedureCall:
		r.delegate.RecordProcedureCall(ctx, e.category, e.code, e.duration)
	case eventBatch:
		r.delegate.RecordBatch(ctx, e.category, e.outcome, e.duration)
	case eventStatusUpdate:
		r.delegate.RecordStatusUpdate(ctx, e.category, e.rowStatus, e.count)
	case eventDuration:
		r.delegate.RecordDuration(ctx, e.name, e.duration, e.tags)
	}
}

// Close stops accepting work and drains the queue.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) send(e metricEvent) {
	select {
	case r.eventQueue <- e:
	default:
		logger.Warnf("AsyncMetricRecorder: queue full, dropping event for category '%s'.", e.category)
	}
}

func (r *AsyncMetricRecorder) RecordJobStart(_ context.Context, jobID, category string) {
	r.send(metricEvent{kind: eventJobStart, jobID: jobID, category: category})
}

func (r *AsyncMetricRecorder) RecordJobEnd(_ context.Context, jobID, category string, status model.JobStatus, duration time.Duration) {
	r.send(metricEvent{kind: eventJobEnd, jobID: jobID, category: category, status: status, duration: duration})
}

func (r *AsyncMetricRecorder) RecordFetch(_ context.Context, category string, rows int) {
	r.send(metricEvent{kind: eventFetch, category: category, count: rows})
}

func (r *AsyncMetricRecorder) RecordProcedureCall(_ context.Context, category string, code int, duration time.Duration) {
	r.send(metricEvent{kind: eventProcedureCall, category: category, code: code, duration: duration})
}

func (r *AsyncMetricRecorder) RecordBatch(_ context.Context, category string, outcome model.BatchOutcome, duration time.Duration) {
	r.send(metricEvent{kind: eventBatch, category: category, outcome: outcome, duration: duration})
}

func (r *AsyncMetricRecorder) RecordStatusUpdate(_ context.Context, category string, status model.RowStatus, rows int) {
	r.send(metricEvent{kind: eventStatusUpdate, category: category, rowStatus: status, count: rows})
}

func (r *AsyncMetricRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, tags map[string]string) {
	r.send(metricEvent{kind: eventDuration, name: name, duration: duration, tags: tags})
}

var _ coremetrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
