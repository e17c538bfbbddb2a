package model

import "time"

// StagingRecord is one eligible row read from a staging table.
type StagingRecord struct {
	ID        int64
	FileName  string
	RowNumber int64
	Status    RowStatus
	// Fields holds every column of the row keyed by column name.
	Fields map[string]interface{}
}

// ProcedureInvocation is the unit of work handed to the batch processor.
type ProcedureInvocation struct {
	RecordID   int64
	Procedure  string
	Parameters []interface{}
	FileName   string
	RowNumber  int64
}

// NullReturnCode replaces a missing or NULL procedure return value.
const NullReturnCode = -1

// ProcedureResult is the typed outcome of one remote call.
type ProcedureResult struct {
	Code int
}

// Succeeded reports whether the procedure returned 0.
func (r ProcedureResult) Succeeded() bool {
	return r.Code == 0
}

// BatchOutcome partitions a processed batch into succeeded and failed ids.
type BatchOutcome struct {
	Succeeded []int64
	Failed    []int64
}

// Total returns the number of attempted records.
func (o BatchOutcome) Total() int {
	return len(o.Succeeded) + len(o.Failed)
}

// RunResult summarizes one migration run.
type RunResult struct {
	JobID      string
	Category   string
	Batches    int
	Succeeded  int
	Failed     int
	Cancelled  bool
	CapReached bool
	// Skipped is set when a scheduled run fired outside its window.
	Skipped    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Processed returns the number of records whose status was written.
func (r RunResult) Processed() int {
	return r.Succeeded + r.Failed
}

// Duration returns the wall time of the run.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
