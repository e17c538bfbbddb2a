package metrics

import "context"

// Tracer starts spans around runs and processing groups.
type Tracer interface {
	// StartRunSpan starts a span for one migration run. The returned function ends it.
	StartRunSpan(ctx context.Context, jobID, category string) (context.Context, func())

	// StartBatchSpan starts a child span for one processing group.
	StartBatchSpan(ctx context.Context, category string, groupIndex, size int) (context.Context, func())

	// RecordError records err on the span in ctx.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
