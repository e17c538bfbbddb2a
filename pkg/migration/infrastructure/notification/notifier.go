// Package notification publishes job completion events.
package notification

import (
	"context"
	"fmt"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// LogNotifier writes completions to the application log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	logger.Infof("Notification: using log notifier.")
	return &LogNotifier{}
}

// NotifyJobCompletion logs at INFO for completed jobs and WARN otherwise.
func (n *LogNotifier) NotifyJobCompletion(_ context.Context, c model.JobCompletion) {
	message := formatCompletion(c)
	if c.Status == model.JobStatusCompleted {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

func formatCompletion(c model.JobCompletion) string {
	msg := fmt.Sprintf("Job Notification: job '%s' (category %s) finished with status %s. Succeeded: %d, Failed: %d, Duration: %s",
		c.JobID, c.Category, c.Status, c.Succeeded, c.Failed, c.Duration)
	if c.Skipped {
		msg += " (skipped: outside scheduled window)"
	}
	if c.Error != "" {
		msg += ", Error: " + c.Error
	}
	return msg
}

var _ ports.Notifier = (*LogNotifier)(nil)
