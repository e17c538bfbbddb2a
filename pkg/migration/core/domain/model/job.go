// Package model holds the migration domain types shared by the engine, the
// scheduler and the manager.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// JobStatus is the externally visible state of a migration job. It is derived
// from the scheduler's live state on every query.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "Scheduled"
	JobStatusRunning   JobStatus = "Running"
	JobStatusCompleted JobStatus = "Completed"
	JobStatusFailed    JobStatus = "Failed"
	// JobStatusCancelled covers user cancellation, scheduled window expiry and unknown job ids.
	JobStatusCancelled JobStatus = "Cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsFinished reports whether s is terminal.
func (s JobStatus) IsFinished() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ExecutionMode selects the trigger used for a request.
type ExecutionMode string

const (
	ModeInstant   ExecutionMode = "Instant"
	ModeScheduled ExecutionMode = "Scheduled"
)

// ParseExecutionMode accepts "instant" and "scheduled" in any case.
func ParseExecutionMode(raw string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "instant", "":
		return ModeInstant, nil
	case "scheduled":
		return ModeScheduled, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", raw)
}

// MigrationSettings are the numeric knobs consumed verbatim by a migration run.
type MigrationSettings struct {
	MaxParallelism      int `yaml:"max_parallelism" json:"max_parallelism"`
	FetchBatchSize      int `yaml:"fetch_batch_size" json:"fetch_batch_size"`
	ProcessingBatchSize int `yaml:"processing_batch_size" json:"processing_batch_size"`
	// RecordCap limits rows per run; 0 is unlimited.
	RecordCap int `yaml:"record_cap" json:"record_cap"`
}

// MigrationRequest is a caller's intent to migrate one category. It is
// immutable once submitted.
type MigrationRequest struct {
	Category       string            `yaml:"category" json:"category"`
	Mode           ExecutionMode     `yaml:"mode" json:"mode"`
	ScheduledStart *time.Time        `yaml:"scheduled_start" json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time        `yaml:"scheduled_end" json:"scheduled_end,omitempty"`
	Settings       MigrationSettings `yaml:"settings" json:"settings"`
	CreatedBy      string            `yaml:"created_by" json:"created_by"`
	CreatedAt      time.Time         `yaml:"created_at" json:"created_at"`
}

// Validate checks the payload before it is executed.
func (r MigrationRequest) Validate() error {
	var errs *multierror.Error
	if r.Category == "" {
		errs = multierror.Append(errs, errors.New("category is required"))
	}
	if r.Settings.MaxParallelism <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("invalid max parallelism %d", r.Settings.MaxParallelism))
	}
	if r.Settings.FetchBatchSize <= 0 || r.Settings.ProcessingBatchSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("batch sizes must be positive (fetch=%d, processing=%d)",
			r.Settings.FetchBatchSize, r.Settings.ProcessingBatchSize))
	}
	if r.Settings.RecordCap < 0 {
		errs = multierror.Append(errs, fmt.Errorf("invalid record cap %d", r.Settings.RecordCap))
	}
	switch r.Mode {
	case ModeInstant:
	case ModeScheduled:
		if r.ScheduledStart == nil || r.ScheduledEnd == nil {
			errs = multierror.Append(errs, errors.New("scheduled migration requires both start and end times"))
		} else if !r.ScheduledEnd.After(*r.ScheduledStart) {
			errs = multierror.Append(errs, fmt.Errorf("scheduled end %s must be after start %s",
				r.ScheduledEnd.Format(time.RFC3339), r.ScheduledStart.Format(time.RFC3339)))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown execution mode %q", r.Mode))
	}
	return errs.ErrorOrNil()
}

// InWindow reports whether now falls inside [ScheduledStart, ScheduledEnd].
// Instant requests are always in window.
func (r MigrationRequest) InWindow(now time.Time) bool {
	if r.Mode != ModeScheduled || r.ScheduledStart == nil || r.ScheduledEnd == nil {
		return true
	}
	return !now.Before(*r.ScheduledStart) && !now.After(*r.ScheduledEnd)
}

// TriggerKind identifies how a job is fired.
type TriggerKind string

const (
	TriggerNow  TriggerKind = "now"
	TriggerAt   TriggerKind = "at"
	TriggerCron TriggerKind = "cron"
)

// MigrationJob is the schedulable unit built from a request.
type MigrationJob struct {
	ID string
	// Payload is the serialized request handed to the executing job.
	Payload     map[string]interface{}
	Trigger     TriggerKind
	FireAt      time.Time
	SubmittedAt time.Time
}

// JobSummary is the read model returned by status listings.
type JobSummary struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Status      JobStatus `json:"status"`
	Trigger     string    `json:"trigger"`
	SubmittedAt time.Time `json:"submitted_at"`
}
