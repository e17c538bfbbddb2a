// Package metrics declares the metric and tracing abstractions used by the
// engine and the scheduler. Backends live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// MetricRecorder records migration metrics.
//
// Implementations must be safe for concurrent use: RecordProcedureCall is
// invoked from every processor worker.
type MetricRecorder interface {
	// RecordJobStart records that a job began executing.
	RecordJobStart(ctx context.Context, jobID, category string)

	// RecordJobEnd records a job's terminal status and wall time.
	RecordJobEnd(ctx context.Context, jobID, category string, status model.JobStatus, duration time.Duration)

	// RecordFetch records the number of rows returned by one staging fetch.
	RecordFetch(ctx context.Context, category string, rows int)

	// RecordProcedureCall records one remote call. code is the normalized
	// return code, or NullReturnCode when the call itself failed.
	RecordProcedureCall(ctx context.Context, category string, code int, duration time.Duration)

	// RecordBatch records the outcome of one processing group.
	RecordBatch(ctx context.Context, category string, outcome model.BatchOutcome, duration time.Duration)

	// RecordStatusUpdate records rows moved to status.
	RecordStatusUpdate(ctx context.Context, category string, status model.RowStatus, rows int)

	// RecordDuration records a named duration with free-form tags.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
