package model

import "time"

// TableBinding describes where a category's staging rows live.
type TableBinding struct {
	Schema          string
	Table           string
	IDColumn        string
	StatusColumn    string
	FileNameColumn  string
	RowNumberColumn string
}

// QualifiedName returns "schema.table", or the bare table name.
func (b TableBinding) QualifiedName() string {
	if b.Schema == "" {
		return b.Table
	}
	return b.Schema + "." + b.Table
}

// ErrorLogEntry is one row of the error log.
type ErrorLogEntry struct {
	Category  string
	RecordID  int64
	FileName  string
	RowNumber int64
	Message   string
	LoggedAt  time.Time
}

// BatchAudit captures the outcome of one processing group for the run archive.
type BatchAudit struct {
	JobID      string
	Category   string
	GroupIndex int
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// JobCompletion is published when a job reaches a terminal status.
type JobCompletion struct {
	JobID     string        `json:"job_id"`
	Category  string        `json:"category"`
	Status    JobStatus     `json:"status"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}
