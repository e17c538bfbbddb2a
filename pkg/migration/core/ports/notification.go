package ports

import (
	"context"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// Notifier publishes job completion events to external systems.
type Notifier interface {
	// NotifyJobCompletion is called once per job when it reaches Completed, Failed or Cancelled.
	NotifyJobCompletion(ctx context.Context, completion model.JobCompletion)
}
