package metrics

import (
	"context"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// NoOpMetricRecorder discards every metric. Used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, string, string) {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, string, string, model.JobStatus, time.Duration) {
}
func (r *NoOpMetricRecorder) RecordFetch(context.Context, string, int)                         {}
func (r *NoOpMetricRecorder) RecordProcedureCall(context.Context, string, int, time.Duration) {}
func (r *NoOpMetricRecorder) RecordBatch(context.Context, string, model.BatchOutcome, time.Duration) {
}
func (r *NoOpMetricRecorder) RecordStatusUpdate(context.Context, string, model.RowStatus, int) {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer returns ctx unchanged and records nothing.
type NoOpTracer struct{}

func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartRunSpan(ctx context.Context, _, _ string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, _ string, _, _ int) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error)                   {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
